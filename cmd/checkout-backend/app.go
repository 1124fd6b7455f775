package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"checkout-backend/internal/config"
	"checkout-backend/internal/domain"
	"checkout-backend/internal/infrastructure/email"
	"checkout-backend/internal/infrastructure/paypal"
	"checkout-backend/internal/infrastructure/queue"
	"checkout-backend/internal/infrastructure/repo"
	"checkout-backend/internal/infrastructure/stripe"
	"checkout-backend/internal/infrastructure/wechat"
	"checkout-backend/internal/logging"
	"checkout-backend/internal/ratelimit"
	"checkout-backend/internal/usecase"
)

type store interface {
	usecase.CheckoutRepo
	usecase.OrderStore
	usecase.OrderRepo
	Ping(ctx context.Context) error
}

// app holds the process-wide resources every command builds on.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	store   store
	rdb     *redis.Client
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logging.New(cfg.Env, cfg.LogJSON)}
	if cfg.DatabaseURL == "" {
		a.log.Warn("no database configured, orders are kept in memory")
		a.store = repo.NewMemoryStore()
	} else {
		pg, err := repo.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pg.Ping(pctx); err != nil {
			a.close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		a.store = pg
	}
	if cfg.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		a.closers = append(a.closers, a.rdb.Close)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "err", err)
		}
	}
}

func (a *app) migrate(ctx context.Context) error {
	pg, ok := a.store.(*repo.PostgresStore)
	if !ok {
		return nil
	}
	return pg.Migrate(ctx)
}

// broker returns the Redis-backed queue when Redis is configured and an
// in-process queue otherwise. The second result reports whether jobs only
// live in this process.
func (a *app) broker() (queue.Broker, bool) {
	if a.rdb == nil {
		return queue.NewMemoryQueue(), true
	}
	return queue.NewRedisQueue(a.rdb, queue.DefaultRetryPolicy()), false
}

func (a *app) limiter() *ratelimit.Limiter {
	var st ratelimit.Store = ratelimit.NewMemoryStore()
	if a.cfg.RateUseRedis && a.rdb != nil {
		st = ratelimit.NewRedisStore(a.rdb)
	}
	w := a.cfg.RateWindow
	return ratelimit.New(st, a.log,
		ratelimit.Bucket{Name: ratelimit.BucketAuth, Limit: a.cfg.RateAuth, Window: w},
		ratelimit.Bucket{Name: ratelimit.BucketAPI, Limit: a.cfg.RateAPI, Window: w},
		ratelimit.Bucket{Name: ratelimit.BucketWebhook, Limit: a.cfg.RateWebhook, Window: w},
	)
}

func (a *app) mailer() *email.Sender {
	return &email.Sender{
		APIKey:  a.cfg.EmailAPIKey,
		BaseURL: a.cfg.EmailBaseURL,
		From:    a.cfg.EmailFrom,
		Mock:    a.cfg.EmailMock,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Log:     a.log,
	}
}

func (a *app) handler() *usecase.NotificationHandler {
	return &usecase.NotificationHandler{Mailer: a.mailer()}
}

func (a *app) dispatcher(b queue.Broker) *usecase.Dispatcher {
	return &usecase.Dispatcher{
		Probe:  b,
		Queued: &usecase.QueuedSink{Queue: b},
		Direct: &usecase.DirectSink{Handler: a.handler()},
		Log:    a.log.With("component", "notify"),
	}
}

func (a *app) wechat() *wechat.PayClient {
	if a.cfg.WechatMchID == "" {
		return nil
	}
	c, err := wechat.NewPayClient(wechat.PayConfig{
		AppID:        a.cfg.WechatAppID,
		MchID:        a.cfg.WechatMchID,
		MchSerial:    a.cfg.WechatMchSerial,
		PrivateKey:   a.cfg.WechatPrivateKey,
		APIv3Key:     a.cfg.WechatAPIv3Key,
		PlatformCert: a.cfg.WechatPlatformCert,
		HTTP:         &http.Client{Timeout: a.cfg.VerifyTimeout},
	})
	if err != nil {
		a.log.Warn("wechat pay disabled", "err", err)
		return nil
	}
	return c
}

func (a *app) gateways(wc *wechat.PayClient) map[domain.PaymentProvider]usecase.PaymentGateway {
	client := &http.Client{Timeout: a.cfg.VerifyTimeout}
	gws := map[domain.PaymentProvider]usecase.PaymentGateway{}
	if a.cfg.StripeSecretKey != "" {
		gws[domain.ProviderStripe] = &stripe.Client{SecretKey: a.cfg.StripeSecretKey, BaseURL: a.cfg.StripeBaseURL, HTTP: client}
	}
	if a.cfg.PayPalClientID != "" {
		gws[domain.ProviderPayPal] = &paypal.Client{ClientID: a.cfg.PayPalClientID, Secret: a.cfg.PayPalSecret, BaseURL: a.cfg.PayPalBaseURL, HTTP: client}
	}
	if wc != nil {
		gws[domain.ProviderWechat] = wc
	}
	if len(gws) == 0 {
		a.log.Warn("no payment provider configured, every completion will be rejected")
	}
	return gws
}

func (a *app) worker(b queue.Broker) *queue.Worker {
	return &queue.Worker{
		Broker:      b,
		Handler:     a.handler(),
		Policy:      queue.DefaultRetryPolicy(),
		Concurrency: a.cfg.WorkerConcurrency,
		JobTimeout:  30 * time.Second,
		Log:         a.log,
	}
}
