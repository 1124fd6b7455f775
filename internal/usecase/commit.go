package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"checkout-backend/internal/domain"
)

// OrderTx is the write surface available inside one database transaction.
type OrderTx interface {
	// LockCheckout loads the session and holds a row lock until the
	// transaction ends.
	LockCheckout(ctx context.Context, id string) (*domain.CheckoutSession, error)
	// InsertOrder persists o and fills in o.OrderNumber. A clash on
	// (payment_provider, payment_id) returns domain.ErrDuplicatePayment.
	InsertOrder(ctx context.Context, o *domain.Order) error
	InsertOrderItems(ctx context.Context, items []domain.OrderItem) error
	MarkCheckoutCompleted(ctx context.Context, id string, at time.Time) error
}

type OrderStore interface {
	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx OrderTx) error) error
	OrderByPayment(ctx context.Context, provider domain.PaymentProvider, paymentID string) (*domain.Order, error)
}

type CommitResult struct {
	Order      *domain.Order
	Idempotent bool
}

type OrderCommitter struct {
	Store   OrderStore
	Timeout time.Duration
	Log     *slog.Logger
	Now     func() time.Time
}

// Commit turns the checkout into an order exactly once per payment. A
// concurrent or repeated commit for the same payment returns the existing
// order with Idempotent set. The unique (provider, payment id) constraint is
// the authority; nothing here checks for an existing order before inserting.
func (c *OrderCommitter) Commit(ctx context.Context, checkoutID string, provider domain.PaymentProvider, paymentID string) (*CommitResult, error) {
	// The transaction outlives a disconnecting client: once started it either
	// commits or rolls back on its own deadline.
	ctx = context.WithoutCancel(ctx)
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	log := c.logger().With("checkoutId", checkoutID, "provider", provider, "paymentId", paymentID)

	var order *domain.Order
	err := c.Store.WithTx(ctx, func(tx OrderTx) error {
		co, err := tx.LockCheckout(ctx, checkoutID)
		if err != nil {
			return err
		}
		if co.Completed() {
			return domain.ErrCheckoutCompleted
		}
		if err := checkPreconditions(co); err != nil {
			return err
		}
		o := c.buildOrder(co, provider, paymentID)
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.InsertOrderItems(ctx, o.Items); err != nil {
			return err
		}
		if err := tx.MarkCheckoutCompleted(ctx, co.ID, o.PaidAt); err != nil {
			return err
		}
		if !o.Subtotal.Equal(co.Subtotal) {
			log.Warn("checkout subtotal differs from line totals",
				"storedSubtotal", co.Subtotal.String(),
				"lineSubtotal", o.Subtotal.String())
		}
		order = o
		return nil
	})

	var bad ErrBadRequest
	switch {
	case err == nil:
		log.Info("order committed", "orderId", order.ID, "orderNumber", order.OrderNumber, "total", order.Total.String())
		return &CommitResult{Order: order}, nil
	case errors.Is(err, domain.ErrDuplicatePayment), errors.Is(err, domain.ErrCheckoutCompleted):
		return c.replay(ctx, log, checkoutID, provider, paymentID)
	case errors.Is(err, domain.ErrCheckoutNotFound):
		return nil, ErrNotFound("checkout")
	case errors.As(err, &bad):
		log.Warn("commit precondition failed", "reason", bad.Error())
		return nil, bad
	default:
		log.Error("order commit failed, rolled back", "err", err)
		return nil, unavailable("commit order", err)
	}
}

// Replay returns the order already committed for this payment on this
// checkout. An order for the payment on any other checkout is never returned.
func (c *OrderCommitter) Replay(ctx context.Context, checkoutID string, provider domain.PaymentProvider, paymentID string) (*CommitResult, error) {
	log := c.logger().With("checkoutId", checkoutID, "provider", provider, "paymentId", paymentID)
	return c.replay(ctx, log, checkoutID, provider, paymentID)
}

func (c *OrderCommitter) replay(ctx context.Context, log *slog.Logger, checkoutID string, provider domain.PaymentProvider, paymentID string) (*CommitResult, error) {
	existing, err := c.Store.OrderByPayment(ctx, provider, paymentID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		log.Error("checkout completed without an order for this payment")
		return nil, ErrGone("checkout already completed")
	}
	if err != nil {
		log.Error("replay lookup failed", "err", err)
		return nil, unavailable("load order", err)
	}
	if existing.CheckoutID != checkoutID {
		log.Error("payment already used by another checkout",
			"security", true,
			"orderCheckoutId", existing.CheckoutID)
		return nil, ErrGone("no matching order for this checkout")
	}
	log.Info("idempotent replay", "orderId", existing.ID, "orderNumber", existing.OrderNumber)
	return &CommitResult{Order: existing, Idempotent: true}, nil
}

func checkPreconditions(co *domain.CheckoutSession) error {
	switch {
	case co.Email == "":
		return ErrBadRequest("checkout has no email")
	case co.ShippingAddress == nil:
		return ErrBadRequest("checkout has no shipping address")
	case co.ShippingRateID == "":
		return ErrBadRequest("checkout has no shipping rate")
	case len(co.CartItems) == 0:
		return ErrBadRequest("checkout has no items")
	case co.Currency == "":
		return ErrBadRequest("checkout has no currency")
	}
	for _, it := range co.CartItems {
		if it.Quantity <= 0 {
			return ErrBadRequest("cart item " + it.ProductID + " has invalid quantity")
		}
	}
	return nil
}

func (c *OrderCommitter) buildOrder(co *domain.CheckoutSession, provider domain.PaymentProvider, paymentID string) *domain.Order {
	now := c.now().UTC()
	o := &domain.Order{
		ID:                uuid.NewString(),
		CheckoutID:        co.ID,
		CustomerID:        co.CustomerID,
		Email:             co.Email,
		ShippingTotal:     co.ShippingTotal,
		TaxTotal:          co.TaxTotal,
		Total:             co.Total,
		Currency:          co.Currency,
		Status:            domain.OrderPending,
		PaymentStatus:     domain.PaymentPaid,
		FulfillmentStatus: domain.FulfillmentUnfulfilled,
		ShippingMethod:    co.ShippingMethod,
		ShippingAddress:   *co.ShippingAddress,
		PaymentProvider:   provider,
		PaymentID:         paymentID,
		PaidAt:            now,
		CreatedAt:         now,
	}
	if co.BillingAddress != nil {
		b := *co.BillingAddress
		o.BillingAddress = &b
	}
	subtotal := decimal.Zero
	o.Items = make([]domain.OrderItem, 0, len(co.CartItems))
	for _, it := range co.CartItems {
		line := it.LineTotal()
		subtotal = subtotal.Add(line)
		o.Items = append(o.Items, domain.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Total:     line,
			Image:     it.Image,
		})
	}
	o.Subtotal = subtotal
	return o
}

func (c *OrderCommitter) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *OrderCommitter) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}
