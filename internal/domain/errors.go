package domain

import "errors"

// Store-level outcomes. Repositories return these; the usecase layer turns
// them into caller-facing errors.
var (
	ErrCheckoutNotFound  = errors.New("checkout not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrCheckoutCompleted = errors.New("checkout already completed")
	// ErrDuplicatePayment reports a unique violation on (payment_provider, payment_id).
	ErrDuplicatePayment = errors.New("order already exists for payment")
	// ErrInvalidTransition reports a status change the order's state forbids.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrPaymentNotFound means the processor answered and has no such payment.
	ErrPaymentNotFound = errors.New("payment not found at processor")
)
