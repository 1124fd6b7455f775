package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-backend/internal/domain"
	"checkout-backend/internal/logging"
)

func committedOrder(t *testing.T, store *fakeStore, checkoutID, customerID, paymentID string) *domain.Order {
	t.Helper()
	store.put(sampleCheckout(checkoutID, customerID))
	res, err := newCommitter(store).Commit(context.Background(), checkoutID, domain.ProviderStripe, paymentID)
	require.NoError(t, err)
	return res.Order
}

func TestOrderServiceGetHidesOtherCustomersOrders(t *testing.T) {
	store := newFakeStore()
	o := committedOrder(t, store, "ck_1", "cust_1", "pi_1")
	svc := &OrderService{Repo: store, Log: logging.Discard()}
	ctx := context.Background()

	got, err := svc.Get(ctx, o.ID, Caller{CustomerID: "cust_1"})
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	var nf ErrNotFound
	_, err = svc.Get(ctx, o.ID, Caller{CustomerID: "cust_2"})
	assert.ErrorAs(t, err, &nf)
	_, err = svc.Get(ctx, "missing", Caller{CustomerID: "cust_1"})
	assert.ErrorAs(t, err, &nf)

	guest := committedOrder(t, store, "ck_2", "", "pi_2")
	_, err = svc.Get(ctx, guest.ID, Caller{})
	assert.NoError(t, err)
}

func TestOrderServiceList(t *testing.T) {
	store := newFakeStore()
	committedOrder(t, store, "ck_1", "cust_1", "pi_1")
	committedOrder(t, store, "ck_2", "cust_1", "pi_2")
	committedOrder(t, store, "ck_3", "cust_2", "pi_3")
	svc := &OrderService{Repo: store, Log: logging.Discard()}

	_, _, err := svc.List(context.Background(), Caller{}, 1, 20)
	var forbidden ErrForbidden
	assert.ErrorAs(t, err, &forbidden)

	items, total, err := svc.List(context.Background(), Caller{CustomerID: "cust_1"}, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 1)

	items, _, err = svc.List(context.Background(), Caller{CustomerID: "cust_1"}, 1, 500)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 100, store.lastPageSize, "oversized pages are clamped, not reset")

	_, _, err = svc.List(context.Background(), Caller{CustomerID: "cust_1"}, 1, -3)
	require.NoError(t, err)
	assert.Equal(t, 20, store.lastPageSize)
}

func TestOrderServiceMarkShipped(t *testing.T) {
	store := newFakeStore()
	o := committedOrder(t, store, "ck_1", "cust_1", "pi_1")
	q := &fakeQueue{}
	d := newDispatcher(q, &fakeMailer{})
	svc := &OrderService{Repo: store, Notifier: d, Log: logging.Discard()}
	ctx := context.Background()

	req := ShipRequest{OrderID: o.ID, Carrier: "UPS", TrackingNumber: "1Z999"}
	shipped, err := svc.MarkShipped(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, shipped.Status)
	d.Wait()

	jobs := q.queued()
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobShippingUpdate, jobs[0].Type)
	var p domain.ShippingUpdatePayload
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &p))
	assert.Equal(t, o.OrderNumber, p.OrderNumber)
	assert.Equal(t, "1Z999", p.TrackingNumber)

	var bad ErrBadRequest
	_, err = svc.MarkShipped(ctx, req)
	assert.ErrorAs(t, err, &bad, "already shipped")
	_, err = svc.MarkShipped(ctx, ShipRequest{OrderID: o.ID})
	assert.ErrorAs(t, err, &bad)

	var nf ErrNotFound
	_, err = svc.MarkShipped(ctx, ShipRequest{OrderID: "missing", Carrier: "UPS", TrackingNumber: "1"})
	assert.ErrorAs(t, err, &nf)
}
