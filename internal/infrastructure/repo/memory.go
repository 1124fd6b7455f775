package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkout-backend/internal/domain"
	"checkout-backend/internal/usecase"
)

type paymentKey struct {
	provider domain.PaymentProvider
	id       string
}

// MemoryStore keeps checkouts and orders in process. Transactions hold the
// store lock for their whole duration and apply staged writes on commit, so
// a failed transaction leaves no trace.
type MemoryStore struct {
	mu        sync.Mutex
	checkouts map[string]*domain.CheckoutSession
	orders    map[string]*domain.Order
	byPayment map[paymentKey]string
	nextNum   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkouts: make(map[string]*domain.CheckoutSession),
		orders:    make(map[string]*domain.Order),
		byPayment: make(map[paymentKey]string),
		nextNum:   orderNumberStart,
	}
}

func (s *MemoryStore) PutCheckout(_ context.Context, c *domain.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkouts[c.ID] = cloneCheckout(c)
	return nil
}

func (s *MemoryStore) GetCheckout(_ context.Context, id string) (*domain.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkouts[id]
	if !ok {
		return nil, domain.ErrCheckoutNotFound
	}
	return cloneCheckout(c), nil
}

func (s *MemoryStore) OrderByPayment(_ context.Context, provider domain.PaymentProvider, paymentID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPayment[paymentKey{provider, paymentID}]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListOrdersByCustomer(_ context.Context, customerID string, page, pageSize int) ([]domain.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			all = append(all, *cloneOrder(o))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].OrderNumber > all[j].OrderNumber })
	total := len(all)
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) MarkShipped(_ context.Context, id string) (*domain.Order, error) {
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
	return cloneOrder(o), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx usecase.OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{s: s, completed: map[string]time.Time{}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, o := range tx.orders {
		s.orders[o.ID] = o
		s.byPayment[paymentKey{o.PaymentProvider, o.PaymentID}] = o.ID
	}
	for _, it := range tx.items {
		if o, ok := s.orders[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	for id, at := range tx.completed {
		at := at
		s.checkouts[id].CompletedAt = &at
		s.checkouts[id].UpdatedAt = at
	}
	s.nextNum += int64(len(tx.orders))
	return nil
}

type memoryTx struct {
	s         *MemoryStore
	orders    []*domain.Order
	items     []domain.OrderItem
	completed map[string]time.Time
}

func (t *memoryTx) LockCheckout(_ context.Context, id string) (*domain.CheckoutSession, error) {
	c, ok := t.s.checkouts[id]
	if !ok {
		return nil, domain.ErrCheckoutNotFound
	}
	return cloneCheckout(c), nil
}

func (t *memoryTx) InsertOrder(_ context.Context, o *domain.Order) error {
	key := paymentKey{o.PaymentProvider, o.PaymentID}
	if _, ok := t.s.byPayment[key]; ok {
		return domain.ErrDuplicatePayment
	}
	for _, staged := range t.orders {
		if staged.PaymentProvider == key.provider && staged.PaymentID == key.id {
			return domain.ErrDuplicatePayment
		}
	}
	o.OrderNumber = t.s.nextNum + int64(len(t.orders))
	cp := cloneOrder(o)
	cp.Items = nil
	t.orders = append(t.orders, cp)
	return nil
}

func (t *memoryTx) InsertOrderItems(_ context.Context, items []domain.OrderItem) error {
	t.items = append(t.items, items...)
	return nil
}

func (t *memoryTx) MarkCheckoutCompleted(_ context.Context, id string, at time.Time) error {
	if _, ok := t.s.checkouts[id]; !ok {
		return domain.ErrCheckoutNotFound
	}
	t.completed[id] = at
	return nil
}

func cloneCheckout(c *domain.CheckoutSession) *domain.CheckoutSession {
	cp := *c
	cp.CartItems = append([]domain.CartItem(nil), c.CartItems...)
	if c.ShippingAddress != nil {
		a := *c.ShippingAddress
		cp.ShippingAddress = &a
	}
	if c.BillingAddress != nil {
		a := *c.BillingAddress
		cp.BillingAddress = &a
	}
	if c.CompletedAt != nil {
		at := *c.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.BillingAddress != nil {
		a := *o.BillingAddress
		cp.BillingAddress = &a
	}
	return &cp
}
