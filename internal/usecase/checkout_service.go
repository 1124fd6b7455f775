package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"checkout-backend/internal/domain"
)

// OrderEvents publishes committed orders to downstream consumers.
type OrderEvents interface {
	OrderCommitted(ctx context.Context, o *domain.Order) error
}

type Notifier interface {
	Dispatch(ctx context.Context, jobType domain.JobType, payload any)
}

type CompleteRequest struct {
	CheckoutID string
	Provider   domain.PaymentProvider
	PaymentID  string
	Caller     Caller
}

type CompleteResult struct {
	Order      *domain.Order `json:"order"`
	Idempotent bool          `json:"idempotent,omitempty"`
}

// CheckoutService runs the completion pipeline: access guard, payment
// verification, order commit, then notification.
type CheckoutService struct {
	Guard     *CheckoutGuard
	Verifier  *PaymentVerifier
	Committer *OrderCommitter
	Notifier  Notifier
	Events    OrderEvents
	Log       *slog.Logger

	bg sync.WaitGroup
}

func (s *CheckoutService) Complete(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	log := s.logger().With("checkoutId", req.CheckoutID, "provider", req.Provider, "paymentId", req.PaymentID)

	access, err := s.Guard.Authorize(ctx, req.CheckoutID, req.Caller)
	if err != nil {
		return nil, err
	}
	if access.Completed {
		if !req.Caller.MayAccess(access.Checkout) {
			return nil, ErrForbidden("checkout belongs to another customer")
		}
		res, err := s.Committer.Replay(ctx, req.CheckoutID, req.Provider, req.PaymentID)
		if err != nil {
			return nil, err
		}
		return &CompleteResult{Order: res.Order, Idempotent: true}, nil
	}

	co := access.Checkout
	if _, err := s.Verifier.Verify(ctx, VerifyRequest{
		CheckoutID:       co.ID,
		Provider:         req.Provider,
		PaymentID:        req.PaymentID,
		ExpectedAmount:   co.Total,
		ExpectedCurrency: co.Currency,
	}); err != nil {
		return nil, err
	}

	res, err := s.Committer.Commit(ctx, co.ID, req.Provider, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !res.Idempotent {
		s.afterCommit(ctx, log, res.Order)
	}
	return &CompleteResult{Order: res.Order, Idempotent: res.Idempotent}, nil
}

func (s *CheckoutService) afterCommit(ctx context.Context, log *slog.Logger, o *domain.Order) {
	if s.Notifier != nil {
		s.Notifier.Dispatch(ctx, domain.JobOrderConfirmation, domain.OrderConfirmationPayload{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			Email:       o.Email,
			Total:       o.Total.StringFixed(domain.CurrencyExponent(o.Currency)),
			Currency:    o.Currency,
			Items:       o.Items,
		})
	}
	if s.Events == nil {
		return
	}
	ectx := context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ectx, cancel := context.WithTimeout(ectx, 10*time.Second)
		defer cancel()
		if err := s.Events.OrderCommitted(ectx, o); err != nil {
			log.Error("order event publish failed", "orderId", o.ID, "err", err)
		}
	}()
}

// Wait blocks until background work started by Complete has finished.
func (s *CheckoutService) Wait() {
	s.bg.Wait()
	if w, ok := s.Notifier.(interface{ Wait() }); ok {
		w.Wait()
	}
}

func (s *CheckoutService) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
