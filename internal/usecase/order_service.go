package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"checkout-backend/internal/domain"
)

type OrderRepo interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID string, page, pageSize int) ([]domain.Order, int, error)
	// MarkShipped moves a paid, unfulfilled order to shipped. It returns
	// domain.ErrOrderNotFound or domain.ErrInvalidTransition.
	MarkShipped(ctx context.Context, id string) (*domain.Order, error)
}

// OrderService is the read side of committed orders plus the one
// post-commit transition the checkout owns: shipping.
type OrderService struct {
	Repo     OrderRepo
	Notifier Notifier
	Log      *slog.Logger
}

// Get returns an order to its owner. Orders of other customers look
// missing rather than forbidden.
func (s *OrderService) Get(ctx context.Context, id string, caller Caller) (*domain.Order, error) {
	o, err := s.Repo.GetOrder(ctx, id)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, ErrNotFound("order")
	}
	if err != nil {
		return nil, unavailable("load order", err)
	}
	if !caller.System && o.CustomerID != "" && o.CustomerID != caller.CustomerID {
		return nil, ErrNotFound("order")
	}
	return o, nil
}

const maxPageSize = 100

func (s *OrderService) List(ctx context.Context, caller Caller, page, pageSize int) ([]domain.Order, int, error) {
	if caller.CustomerID == "" {
		return nil, 0, ErrForbidden("login required")
	}
	if page <= 0 {
		page = 1
	}
	switch {
	case pageSize <= 0:
		pageSize = 20
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	items, total, err := s.Repo.ListOrdersByCustomer(ctx, caller.CustomerID, page, pageSize)
	if err != nil {
		return nil, 0, unavailable("list orders", err)
	}
	return items, total, nil
}

type ShipRequest struct {
	OrderID        string
	Carrier        string
	TrackingNumber string
	TrackingURL    string
}

// MarkShipped records the shipment and queues the shipping_update email.
func (s *OrderService) MarkShipped(ctx context.Context, req ShipRequest) (*domain.Order, error) {
	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.Carrier) == "" || strings.TrimSpace(req.TrackingNumber) == "" {
		return nil, ErrBadRequest("order id, carrier and tracking number required")
	}
	o, err := s.Repo.MarkShipped(ctx, req.OrderID)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return nil, ErrNotFound("order")
	case errors.Is(err, domain.ErrInvalidTransition):
		return nil, ErrBadRequest("order cannot be shipped in its current state")
	case err != nil:
		return nil, unavailable("mark shipped", err)
	}
	s.logger().Info("order shipped", "orderId", o.ID, "orderNumber", o.OrderNumber, "carrier", req.Carrier)
	if s.Notifier != nil {
		s.Notifier.Dispatch(ctx, domain.JobShippingUpdate, domain.ShippingUpdatePayload{
			OrderID:        o.ID,
			OrderNumber:    o.OrderNumber,
			Email:          o.Email,
			Carrier:        req.Carrier,
			TrackingNumber: req.TrackingNumber,
			TrackingURL:    req.TrackingURL,
		})
	}
	return o, nil
}

func (s *OrderService) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
