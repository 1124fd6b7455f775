package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"checkout-backend/internal/domain"
)

var ErrClosed = errors.New("queue closed")

// MemoryQueue is a single-process broker for dev runs and tests. Retention
// is not enforced; finished jobs stay until the process exits.
type MemoryQueue struct {
	mu        sync.Mutex
	ready     []domain.NotificationJob
	delayed   []domain.NotificationJob
	leased    map[string]domain.NotificationJob
	completed map[string]domain.NotificationJob
	failed    map[string]domain.NotificationJob
	signal    chan struct{}
	closed    bool
	now       func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		leased:    make(map[string]domain.NotificationJob),
		completed: make(map[string]domain.NotificationJob),
		failed:    make(map[string]domain.NotificationJob),
		signal:    make(chan struct{}, 1),
		now:       time.Now,
	}
}

func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

// Close makes Ping and Enqueue fail, simulating a broker outage.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *MemoryQueue) Enqueue(_ context.Context, job domain.NotificationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.put(job)
	return nil
}

func (q *MemoryQueue) put(job domain.NotificationJob) {
	if job.RunAt.After(q.now()) {
		q.delayed = append(q.delayed, job)
	} else {
		q.ready = append(q.ready, job)
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		if d := q.take(); d != nil {
			return d, nil
		}
		tick := time.NewTimer(minDuration(wait, 50*time.Millisecond))
		select {
		case <-ctx.Done():
			tick.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			tick.Stop()
			if d := q.take(); d != nil {
				return d, nil
			}
			return nil, nil
		case <-q.signal:
			tick.Stop()
		case <-tick.C:
		}
	}
}

// take leases the oldest ready job after promoting due delayed ones.
func (q *MemoryQueue) take() *Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	sort.SliceStable(q.delayed, func(i, j int) bool { return q.delayed[i].RunAt.Before(q.delayed[j].RunAt) })
	for len(q.delayed) > 0 && !q.delayed[0].RunAt.After(now) {
		q.ready = append(q.ready, q.delayed[0])
		q.delayed = q.delayed[1:]
	}
	if len(q.ready) == 0 {
		return nil
	}
	job := q.ready[0]
	q.ready = q.ready[1:]
	q.leased[job.ID] = job
	return &Delivery{Job: job}
}

func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, d.Job.ID)
	q.completed[d.Job.ID] = d.Job
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, d *Delivery, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, d.Job.ID)
	job := d.Job
	job.RunAt = at
	q.put(job)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, d.Job.ID)
	q.failed[d.Job.ID] = d.Job
	return nil
}

func (q *MemoryQueue) Completed(id string) (domain.NotificationJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.completed[id]
	return j, ok
}

func (q *MemoryQueue) Failed(id string) (domain.NotificationJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.failed[id]
	return j, ok
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.delayed) + len(q.leased)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
