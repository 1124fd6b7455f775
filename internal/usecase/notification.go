package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkout-backend/internal/domain"
)

// NotificationMaxAttempts bounds queued delivery: five attempts with the
// queue's exponential backoff between them.
const NotificationMaxAttempts = 5

type EmailSender interface {
	Send(ctx context.Context, msg domain.EmailMessage) (string, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, job domain.NotificationJob) error
}

type BrokerProbe interface {
	Ping(ctx context.Context) error
}

// NotificationSink is one way of getting a job to the customer.
type NotificationSink interface {
	Name() string
	Deliver(ctx context.Context, job domain.NotificationJob) error
}

// QueuedSink hands the job to the broker; the worker sends it with retries.
type QueuedSink struct {
	Queue JobQueue
}

func (s *QueuedSink) Name() string { return "queued" }

func (s *QueuedSink) Deliver(ctx context.Context, job domain.NotificationJob) error {
	return s.Queue.Enqueue(ctx, job)
}

// DirectSink sends once, in process, without retry.
type DirectSink struct {
	Handler *NotificationHandler
}

func (s *DirectSink) Name() string { return "direct" }

func (s *DirectSink) Deliver(ctx context.Context, job domain.NotificationJob) error {
	return s.Handler.Handle(ctx, job)
}

type Dispatcher struct {
	Probe   BrokerProbe
	Queued  NotificationSink
	Direct  NotificationSink
	Timeout time.Duration
	Log     *slog.Logger

	wg sync.WaitGroup
}

// Dispatch schedules a notification and returns immediately. Delivery
// problems are logged and never reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, jobType domain.JobType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		d.logger().Error("notification payload not encodable", "type", jobType, "err", err)
		return
	}
	now := time.Now().UTC()
	job := domain.NotificationJob{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: NotificationMaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
	}
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(bg, job)
	}()
}

// Wait blocks until every dispatched job has been handed off.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) deliver(ctx context.Context, job domain.NotificationJob) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	log := d.logger().With("jobId", job.ID, "type", job.Type)

	sink := d.selectSink(ctx, log)
	if sink == nil {
		log.Error("no notification sink available, dropping job")
		return
	}
	err := sink.Deliver(ctx, job)
	if err == nil {
		log.Info("notification dispatched", "sink", sink.Name())
		return
	}
	if sink == d.Queued && d.Direct != nil {
		// The broker answered the probe but refused the job; send inline once.
		log.Warn("enqueue failed after healthy probe, sending directly", "err", err)
		if err = d.Direct.Deliver(ctx, job); err == nil {
			log.Info("notification dispatched", "sink", d.Direct.Name())
			return
		}
	}
	log.Error("notification delivery failed", "sink", sink.Name(), "err", err)
}

func (d *Dispatcher) selectSink(ctx context.Context, log *slog.Logger) NotificationSink {
	if d.Queued == nil || d.Probe == nil {
		return d.Direct
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.Probe.Ping(pctx); err != nil {
		log.Warn("notification broker unreachable, using direct send", "err", err)
		return d.Direct
	}
	return d.Queued
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

// NotificationHandler renders a job into an email and sends it. It backs both
// the direct sink and the queue worker.
type NotificationHandler struct {
	Mailer EmailSender
}

func (h *NotificationHandler) Handle(ctx context.Context, job domain.NotificationJob) error {
	msg, err := RenderNotification(job)
	if err != nil {
		return err
	}
	_, err = h.Mailer.Send(ctx, msg)
	return err
}

func RenderNotification(job domain.NotificationJob) (domain.EmailMessage, error) {
	switch job.Type {
	case domain.JobOrderConfirmation:
		var p domain.OrderConfirmationPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return domain.EmailMessage{}, fmt.Errorf("decode %s payload: %w", job.Type, err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Thanks for your order #%d.\n\n", p.OrderNumber)
		for _, it := range p.Items {
			fmt.Fprintf(&b, "%d x %s  %s %s\n", it.Quantity, it.Title, it.Total.StringFixed(2), p.Currency)
		}
		fmt.Fprintf(&b, "\nTotal: %s %s\n", p.Total, p.Currency)
		return domain.EmailMessage{
			To:      p.Email,
			Subject: fmt.Sprintf("Order #%d confirmed", p.OrderNumber),
			Text:    b.String(),
			Tags:    map[string]string{"type": string(job.Type), "order_id": p.OrderID},
		}, nil
	case domain.JobShippingUpdate:
		var p domain.ShippingUpdatePayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return domain.EmailMessage{}, fmt.Errorf("decode %s payload: %w", job.Type, err)
		}
		text := fmt.Sprintf("Order #%d has shipped with %s.\nTracking number: %s\n", p.OrderNumber, p.Carrier, p.TrackingNumber)
		if p.TrackingURL != "" {
			text += "Track it: " + p.TrackingURL + "\n"
		}
		return domain.EmailMessage{
			To:      p.Email,
			Subject: fmt.Sprintf("Order #%d shipped", p.OrderNumber),
			Text:    text,
			Tags:    map[string]string{"type": string(job.Type), "order_id": p.OrderID},
		}, nil
	default:
		return domain.EmailMessage{}, fmt.Errorf("unknown notification type %q", job.Type)
	}
}
