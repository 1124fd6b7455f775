package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-backend/internal/domain"
	"checkout-backend/internal/usecase"
)

func seedCheckout(t *testing.T, s *MemoryStore, id string) *domain.CheckoutSession {
	t.Helper()
	co := &domain.CheckoutSession{
		ID:              id,
		Email:           "a@example.com",
		CartItems:       []domain.CartItem{{ProductID: "p1", Quantity: 1, Title: "Mug", UnitPrice: decimal.RequireFromString("29.99")}},
		ShippingAddress: &domain.Address{Name: "A", Line1: "1 Main", City: "X", PostalCode: "1", Country: "US"},
		ShippingRateID:  "rate_std",
		Subtotal:        decimal.RequireFromString("29.99"),
		Total:           decimal.RequireFromString("29.99"),
		Currency:        "USD",
	}
	require.NoError(t, s.PutCheckout(context.Background(), co))
	return co
}

func newOrder(checkoutID string, provider domain.PaymentProvider, paymentID string) *domain.Order {
	return &domain.Order{
		ID:              checkoutID + "-" + paymentID,
		CheckoutID:      checkoutID,
		PaymentProvider: provider,
		PaymentID:       paymentID,
		Items:           []domain.OrderItem{{ID: "i-" + paymentID, OrderID: checkoutID + "-" + paymentID, Quantity: 1}},
	}
}

func commitOrder(ctx context.Context, s *MemoryStore, o *domain.Order) error {
	return s.WithTx(ctx, func(tx usecase.OrderTx) error {
		co, err := tx.LockCheckout(ctx, o.CheckoutID)
		if err != nil {
			return err
		}
		if co.Completed() {
			return domain.ErrCheckoutCompleted
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.InsertOrderItems(ctx, o.Items); err != nil {
			return err
		}
		return tx.MarkCheckoutCompleted(ctx, o.CheckoutID, time.Now())
	})
}

func TestMemoryStoreCommitAssignsSequentialNumbers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCheckout(t, s, "ck_1")
	seedCheckout(t, s, "ck_2")

	o1 := newOrder("ck_1", domain.ProviderStripe, "pi_1")
	o2 := newOrder("ck_2", domain.ProviderStripe, "pi_2")
	require.NoError(t, commitOrder(ctx, s, o1))
	require.NoError(t, commitOrder(ctx, s, o2))
	assert.Equal(t, int64(orderNumberStart), o1.OrderNumber)
	assert.Equal(t, int64(orderNumberStart+1), o2.OrderNumber)

	got, err := s.OrderByPayment(ctx, domain.ProviderStripe, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, o1.ID, got.ID)
	assert.Len(t, got.Items, 1)

	co, err := s.GetCheckout(ctx, "ck_1")
	require.NoError(t, err)
	assert.True(t, co.Completed())

	list, total, err := s.ListOrdersByCustomer(ctx, "", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 1)
	assert.Equal(t, o2.ID, list[0].ID)
}

func TestMemoryStoreMarkShipped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCheckout(t, s, "ck_1")
	o := newOrder("ck_1", domain.ProviderStripe, "pi_1")
	o.Status = domain.OrderPending
	o.PaymentStatus = domain.PaymentPaid
	o.FulfillmentStatus = domain.FulfillmentUnfulfilled
	require.NoError(t, commitOrder(ctx, s, o))

	shipped, err := s.MarkShipped(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, shipped.Status)
	assert.Equal(t, domain.FulfillmentFulfilled, shipped.FulfillmentStatus)

	_, err = s.MarkShipped(ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = s.MarkShipped(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestMemoryStoreDuplicatePayment(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCheckout(t, s, "ck_1")
	seedCheckout(t, s, "ck_2")
	require.NoError(t, commitOrder(ctx, s, newOrder("ck_1", domain.ProviderStripe, "pi_1")))

	err := commitOrder(ctx, s, newOrder("ck_2", domain.ProviderStripe, "pi_1"))
	assert.ErrorIs(t, err, domain.ErrDuplicatePayment)

	// Same payment id under another provider is a different payment.
	require.NoError(t, commitOrder(ctx, s, newOrder("ck_2", domain.ProviderPayPal, "pi_1")))
}

func TestMemoryStoreRollbackLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCheckout(t, s, "ck_1")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx usecase.OrderTx) error {
		o := newOrder("ck_1", domain.ProviderStripe, "pi_1")
		require.NoError(t, tx.InsertOrder(ctx, o))
		require.NoError(t, tx.InsertOrderItems(ctx, o.Items))
		require.NoError(t, tx.MarkCheckoutCompleted(ctx, "ck_1", time.Now()))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.OrderByPayment(ctx, domain.ProviderStripe, "pi_1")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	co, err := s.GetCheckout(ctx, "ck_1")
	require.NoError(t, err)
	assert.False(t, co.Completed())

	// The failed transaction did not consume an order number.
	o := newOrder("ck_1", domain.ProviderStripe, "pi_1")
	require.NoError(t, commitOrder(ctx, s, o))
	assert.Equal(t, int64(orderNumberStart), o.OrderNumber)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCheckout(t, s, "ck_1")

	co, err := s.GetCheckout(ctx, "ck_1")
	require.NoError(t, err)
	co.CartItems[0].Quantity = 99
	co.ShippingAddress.City = "Elsewhere"

	again, err := s.GetCheckout(ctx, "ck_1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.CartItems[0].Quantity)
	assert.Equal(t, "X", again.ShippingAddress.City)

	_, err = s.GetCheckout(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCheckoutNotFound)
}
