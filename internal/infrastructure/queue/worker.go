package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"checkout-backend/internal/domain"
)

type JobHandler interface {
	Handle(ctx context.Context, job domain.NotificationJob) error
}

type Worker struct {
	Broker      Broker
	Handler     JobHandler
	Policy      RetryPolicy
	Concurrency int
	// JobTimeout bounds a single delivery attempt.
	JobTimeout time.Duration
	PollWait   time.Duration
	Log        *slog.Logger
	Now        func() time.Time
}

// Run consumes jobs until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) {
	n := w.Concurrency
	if n <= 0 {
		n = 5
	}
	log := w.logger()
	log.Info("notification worker started", "concurrency", n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, log.With("slot", slot))
		}(i)
	}
	wg.Wait()
	log.Info("notification worker stopped")
}

func (w *Worker) loop(ctx context.Context, log *slog.Logger) {
	wait := w.PollWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	for ctx.Err() == nil {
		d, err := w.Broker.Dequeue(ctx, wait)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			log.Warn("dequeue failed", "err", err)
			sleep(ctx, wait)
			continue
		}
		if d == nil {
			continue
		}
		w.process(context.WithoutCancel(ctx), log, d)
	}
}

// process runs one attempt. It is detached from Run's context so a shutdown
// lets the attempt finish and record its outcome.
func (w *Worker) process(ctx context.Context, log *slog.Logger, d *Delivery) {
	log = log.With("jobId", d.Job.ID, "type", d.Job.Type)
	timeout := w.JobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	err := w.Handler.Handle(hctx, d.Job)
	cancel()

	if err == nil {
		d.Job.Attempts++
		if aerr := w.Broker.Ack(ctx, d); aerr != nil {
			log.Error("ack failed", "err", aerr)
			return
		}
		log.Info("notification delivered", "attempts", d.Job.Attempts)
		return
	}

	d.Job.Attempts++
	d.Job.LastError = err.Error()
	limit := w.Policy.maxAttempts(d.Job)
	if d.Job.Attempts >= limit {
		log.Error("notification delivery exhausted", "attempts", d.Job.Attempts, "err", err)
		if ferr := w.Broker.Fail(ctx, d); ferr != nil {
			log.Error("record failed job", "err", ferr)
		}
		return
	}
	delay := w.Policy.Backoff(d.Job.Attempts)
	at := w.now().Add(delay)
	d.Job.RunAt = at
	log.Warn("notification attempt failed, retrying", "attempt", d.Job.Attempts, "retryIn", delay.String(), "err", err)
	if rerr := w.Broker.Retry(ctx, d, at); rerr != nil {
		log.Error("schedule retry failed", "err", rerr)
	}
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Worker) logger() *slog.Logger {
	if w.Log != nil {
		return w.Log.With("component", "worker")
	}
	return slog.Default().With("component", "worker")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
