package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"checkout-backend/internal/domain"
)

// fakeStore serializes transactions behind one mutex, which gives the same
// outcome as a row lock on a single checkout.
type fakeStore struct {
	mu        sync.Mutex
	checkouts map[string]domain.CheckoutSession
	orders    map[string]domain.Order
	byPayment map[string]string
	next      int64

	failInsert   error
	lookups      int
	lastPageSize int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		checkouts: map[string]domain.CheckoutSession{},
		orders:    map[string]domain.Order{},
		byPayment: map[string]string{},
		next:      1001,
	}
}

func (s *fakeStore) put(co domain.CheckoutSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkouts[co.ID] = co
}

func (s *fakeStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *fakeStore) GetCheckout(_ context.Context, id string) (*domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	co, ok := s.checkouts[id]
	if !ok {
		return nil, domain.ErrCheckoutNotFound
	}
	return &co, nil
}

func (s *fakeStore) OrderByPayment(_ context.Context, provider domain.PaymentProvider, paymentID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPayment[string(provider)+"/"+paymentID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	o := s.orders[id]
	return &o, nil
}

func (s *fakeStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (s *fakeStore) ListOrdersByCustomer(_ context.Context, customerID string, page, pageSize int) ([]domain.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPageSize = pageSize
	var out []domain.Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	total := len(out)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	return out[start:min(start+pageSize, total)], total, nil
}

func (s *fakeStore) MarkShipped(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if !o.Shippable() {
		return nil, domain.ErrInvalidTransition
	}
	o.Status = domain.OrderShipped
	o.FulfillmentStatus = domain.FulfillmentFulfilled
	s.orders[id] = o
	return &o, nil
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(tx OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &fakeTx{s: s, checkouts: map[string]domain.CheckoutSession{}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, co := range tx.checkouts {
		s.checkouts[id] = co
	}
	if tx.order != nil {
		o := *tx.order
		o.Items = tx.items
		s.orders[o.ID] = o
		s.byPayment[string(o.PaymentProvider)+"/"+o.PaymentID] = o.ID
		s.next++
	}
	return nil
}

type fakeTx struct {
	s         *fakeStore
	checkouts map[string]domain.CheckoutSession
	order     *domain.Order
	items     []domain.OrderItem
}

func (tx *fakeTx) LockCheckout(_ context.Context, id string) (*domain.CheckoutSession, error) {
	co, ok := tx.s.checkouts[id]
	if !ok {
		return nil, domain.ErrCheckoutNotFound
	}
	return &co, nil
}

func (tx *fakeTx) InsertOrder(_ context.Context, o *domain.Order) error {
	if tx.s.failInsert != nil {
		return tx.s.failInsert
	}
	if _, dup := tx.s.byPayment[string(o.PaymentProvider)+"/"+o.PaymentID]; dup {
		return domain.ErrDuplicatePayment
	}
	o.OrderNumber = tx.s.next
	cp := *o
	tx.order = &cp
	return nil
}

func (tx *fakeTx) InsertOrderItems(_ context.Context, items []domain.OrderItem) error {
	tx.items = append([]domain.OrderItem(nil), items...)
	return nil
}

func (tx *fakeTx) MarkCheckoutCompleted(_ context.Context, id string, at time.Time) error {
	co, ok := tx.s.checkouts[id]
	if !ok {
		return domain.ErrCheckoutNotFound
	}
	if co.CompletedAt != nil {
		return domain.ErrCheckoutCompleted
	}
	co.CompletedAt = &at
	tx.checkouts[id] = co
	return nil
}

type fakeGateway struct {
	mu    sync.Mutex
	snaps map[string]domain.PaymentSnapshot
	err   error
	delay time.Duration
	calls int
}

func (g *fakeGateway) set(id, status string, minor int64, currency string) {
	g.setRef(id, status, minor, currency, "")
}

func (g *fakeGateway) setRef(id, status string, minor int64, currency, reference string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snaps == nil {
		g.snaps = map[string]domain.PaymentSnapshot{}
	}
	g.snaps[id] = domain.PaymentSnapshot{
		ID:          id,
		Status:      status,
		Succeeded:   status == "succeeded",
		AmountMinor: minor,
		Currency:    currency,
		Reference:   reference,
	}
}

func (g *fakeGateway) FetchPayment(ctx context.Context, id string) (*domain.PaymentSnapshot, error) {
	g.mu.Lock()
	g.calls++
	snap, ok := g.snaps[id]
	err, delay := g.err, g.delay
	g.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no such payment")
	}
	return &snap, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []domain.EmailMessage
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg domain.EmailMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "msg_1", nil
}

func (m *fakeMailer) messages() []domain.EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EmailMessage(nil), m.sent...)
}

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []domain.NotificationJob
	pingErr error
	enqErr  error
}

func (q *fakeQueue) Ping(context.Context) error { return q.pingErr }

func (q *fakeQueue) Enqueue(_ context.Context, job domain.NotificationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqErr != nil {
		return q.enqErr
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) queued() []domain.NotificationJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.NotificationJob(nil), q.jobs...)
}

func sampleCheckout(id, customerID string) domain.CheckoutSession {
	price := decimal.RequireFromString("29.99")
	return domain.CheckoutSession{
		ID:              id,
		CustomerID:      customerID,
		Email:           "buyer@example.com",
		CartItems:       []domain.CartItem{{ProductID: "p1", Quantity: 1, Title: "Mug", UnitPrice: price}},
		ShippingAddress: &domain.Address{Name: "B", Line1: "1 Main", City: "X", PostalCode: "1", Country: "US"},
		ShippingMethod:  "standard",
		ShippingRateID:  "rate_std",
		Subtotal:        price,
		Total:           price,
		Currency:        "USD",
	}
}
