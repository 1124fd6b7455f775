// Package ratelimit implements fixed-window request counting per
// (bucket, client) pair. Counters are ephemeral: losing them only re-opens
// the window, so every store failure is treated as "allowed".
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	BucketAuth    = "auth"
	BucketAPI     = "api"
	BucketWebhook = "webhook"

	// UnknownClient is the key used when no forwarding header identifies the caller.
	UnknownClient = "unknown"
)

type Bucket struct {
	Name   string
	Limit  int
	Window time.Duration
}

type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds the remaining window up to whole seconds, minimum 1.
func (d Decision) RetryAfterSeconds() int {
	s := int((d.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// Store increments the counter for key inside a window of the given length
// and reports the new count and the time left in the window.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Reset(ctx context.Context) error
}

type Limiter struct {
	store   Store
	buckets map[string]Bucket
	log     *slog.Logger
}

func New(store Store, log *slog.Logger, buckets ...Bucket) *Limiter {
	m := make(map[string]Bucket, len(buckets))
	for _, b := range buckets {
		m[b.Name] = b
	}
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{store: store, buckets: m, log: log.With("component", "ratelimit")}
}

func (l *Limiter) Check(ctx context.Context, bucket, key string) Decision {
	b, ok := l.buckets[bucket]
	if !ok || b.Limit <= 0 {
		l.log.Warn("unknown rate limit bucket, allowing", "bucket", bucket)
		return Decision{Allowed: true}
	}
	if key == "" {
		key = UnknownClient
	}
	count, ttl, err := l.store.Incr(ctx, bucket+":"+key, b.Window)
	if err != nil {
		l.log.Warn("rate limit store unavailable, allowing", "bucket", bucket, "key", key, "err", err)
		return Decision{Allowed: true, Limit: b.Limit}
	}
	if count > int64(b.Limit) {
		if ttl <= 0 {
			ttl = b.Window
		}
		return Decision{Allowed: false, Count: count, Limit: b.Limit, RetryAfter: ttl}
	}
	return Decision{Allowed: true, Count: count, Limit: b.Limit}
}

// Reset clears every counter. Tests use it to isolate cases.
func (l *Limiter) Reset(ctx context.Context) error {
	return l.store.Reset(ctx)
}

// ClientKey derives the limiter key from the forwarding headers set by the
// edge proxy. With neither header present every such caller shares the
// UnknownClient key.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownClient
}
