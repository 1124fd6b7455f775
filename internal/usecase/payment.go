package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"checkout-backend/internal/domain"
)

// PaymentGateway reads a payment's current state from the processor's API.
type PaymentGateway interface {
	FetchPayment(ctx context.Context, paymentID string) (*domain.PaymentSnapshot, error)
}

type PaymentVerifier struct {
	Gateways map[domain.PaymentProvider]PaymentGateway
	Timeout  time.Duration
	Log      *slog.Logger
}

type VerifyRequest struct {
	CheckoutID       string
	Provider         domain.PaymentProvider
	PaymentID        string
	ExpectedAmount   decimal.Decimal
	ExpectedCurrency string
}

// Verify confirms with the processor that the payment settled for exactly
// the expected amount. Client claims are never consulted. A lookup that
// errors or times out is an ErrUnavailable, never a success.
func (v *PaymentVerifier) Verify(ctx context.Context, req VerifyRequest) (*domain.PaymentSnapshot, error) {
	gw, ok := v.Gateways[req.Provider]
	if !ok || gw == nil {
		return nil, ErrBadRequest("unsupported payment provider: " + string(req.Provider))
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		return nil, ErrBadRequest("payment id required")
	}
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}
	log := v.logger().With(
		"checkoutId", req.CheckoutID,
		"provider", req.Provider,
		"paymentId", req.PaymentID,
	)

	snap, err := gw.FetchPayment(ctx, req.PaymentID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		log.Warn("payment unknown to processor", "err", err)
		return nil, ErrPaymentRejected("payment not found")
	}
	if err != nil {
		log.Error("payment verification lookup failed", "err", err)
		return nil, unavailable("verify payment", err)
	}
	if !snap.Succeeded {
		log.Warn("payment not settled", "status", snap.Status)
		return nil, ErrPaymentRejected("payment status is " + snap.Status)
	}
	if snap.Reference != "" && snap.Reference != req.CheckoutID {
		log.Error("payment belongs to another checkout",
			"security", true,
			"paymentReference", snap.Reference)
		return nil, ErrPaymentRejected("payment reference mismatch")
	}
	if !strings.EqualFold(snap.Currency, req.ExpectedCurrency) {
		log.Error("payment currency mismatch",
			"security", true,
			"expectedCurrency", req.ExpectedCurrency,
			"actualCurrency", snap.Currency)
		return nil, ErrPaymentRejected("currency mismatch")
	}
	expected := domain.ToMinorUnits(req.ExpectedAmount, req.ExpectedCurrency)
	if snap.AmountMinor != expected {
		log.Error("payment amount mismatch",
			"security", true,
			"currency", req.ExpectedCurrency,
			"expectedMinor", expected,
			"actualMinor", snap.AmountMinor)
		return nil, ErrPaymentRejected("amount mismatch")
	}
	log.Info("payment verified", "amountMinor", snap.AmountMinor, "currency", snap.Currency)
	return snap, nil
}

func (v *PaymentVerifier) logger() *slog.Logger {
	if v.Log != nil {
		return v.Log
	}
	return slog.Default()
}
