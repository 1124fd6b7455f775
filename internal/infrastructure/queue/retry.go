// Package queue carries notification jobs from the dispatcher to the worker
// that sends them. Delivery is at-least-once: a job whose worker dies before
// acknowledging it is redelivered after Recover.
package queue

import (
	"context"
	"time"

	"checkout-backend/internal/domain"
)

type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	KeepCompleted time.Duration
	KeepFailed    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   5,
		BaseDelay:     time.Second,
		KeepCompleted: 24 * time.Hour,
		KeepFailed:    7 * 24 * time.Hour,
	}
}

// Backoff is the delay after the n-th failed attempt: base, 2*base, 4*base...
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BaseDelay << (n - 1)
}

func (p RetryPolicy) maxAttempts(job domain.NotificationJob) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return p.MaxAttempts
}

// Delivery is a job leased to one worker until it is acked, retried or failed.
type Delivery struct {
	Job domain.NotificationJob
	raw string
}

type Broker interface {
	Enqueue(ctx context.Context, job domain.NotificationJob) error
	// Dequeue waits up to wait for a ready job. It returns nil, nil when
	// nothing arrived in time.
	Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Retry(ctx context.Context, d *Delivery, at time.Time) error
	Fail(ctx context.Context, d *Delivery) error
	Ping(ctx context.Context) error
}
