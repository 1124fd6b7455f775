package usecase

import "fmt"

type ErrNotFound string

func (e ErrNotFound) Error() string { return string(e) + " not found" }

type ErrForbidden string

func (e ErrForbidden) Error() string { return string(e) }

type ErrBadRequest string

func (e ErrBadRequest) Error() string { return string(e) }

// ErrGone is returned when a checkout is completed but no order matches the
// submitted payment.
type ErrGone string

func (e ErrGone) Error() string { return string(e) }

// ErrPaymentRejected means the processor did not confirm the payment as
// settled for the expected amount. No order is created; the customer may
// retry with a new payment.
type ErrPaymentRejected string

func (e ErrPaymentRejected) Error() string { return "payment rejected: " + string(e) }

// ErrUnavailable wraps infrastructure failures (database, processor API,
// timeouts). Retrying the same completion call is safe.
type ErrUnavailable struct {
	Op  string
	Err error
}

func (e *ErrUnavailable) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *ErrUnavailable) Unwrap() error { return e.Err }

func unavailable(op string, err error) error {
	return &ErrUnavailable{Op: op, Err: err}
}
