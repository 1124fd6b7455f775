package usecase

import (
	"context"
	"errors"

	"checkout-backend/internal/domain"
)

type CheckoutRepo interface {
	GetCheckout(ctx context.Context, id string) (*domain.CheckoutSession, error)
}

type Access struct {
	Checkout *domain.CheckoutSession
	// Completed means the checkout was already committed; the caller must go
	// to replay handling instead of verifying and committing again.
	Completed bool
}

type CheckoutGuard struct {
	Checkouts CheckoutRepo
}

func (g *CheckoutGuard) Authorize(ctx context.Context, checkoutID string, caller Caller) (*Access, error) {
	if checkoutID == "" {
		return nil, ErrBadRequest("checkout id required")
	}
	co, err := g.Checkouts.GetCheckout(ctx, checkoutID)
	if errors.Is(err, domain.ErrCheckoutNotFound) {
		return nil, ErrNotFound("checkout")
	}
	if err != nil {
		return nil, unavailable("load checkout", err)
	}
	// Completion is checked before ownership. Replay still requires the
	// caller to own the checkout before it hands back the order.
	if co.Completed() {
		return &Access{Checkout: co, Completed: true}, nil
	}
	if !caller.MayAccess(co) {
		return nil, ErrForbidden("checkout belongs to another customer")
	}
	return &Access{Checkout: co}, nil
}
