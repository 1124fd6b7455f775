package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"checkout-backend/internal/config"
	"checkout-backend/internal/infrastructure/events"
	"checkout-backend/internal/infrastructure/stripe"
	"checkout-backend/internal/server"
	"checkout-backend/internal/usecase"
)

func serveCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().BoolVar(&cfg.WorkerInProcess, "worker", cfg.WorkerInProcess, "run the notification worker inside the API process")
	return cmd
}

func runServe(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	broker, local := a.broker()
	dispatcher := a.dispatcher(broker)
	wc := a.wechat()

	svc := &usecase.CheckoutService{
		Guard: &usecase.CheckoutGuard{Checkouts: a.store},
		Verifier: &usecase.PaymentVerifier{
			Gateways: a.gateways(wc),
			Timeout:  cfg.VerifyTimeout,
			Log:      a.log,
		},
		Committer: &usecase.OrderCommitter{Store: a.store, Timeout: cfg.TxTimeout, Log: a.log},
		Notifier:  dispatcher,
		Log:       a.log,
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.OrderTopic, a.log)
		if err != nil {
			a.log.Warn("order events disabled", "err", err)
		} else {
			svc.Events = pub
			a.closers = append(a.closers, pub.Close)
		}
	}

	deps := server.Deps{
		Checkout: svc,
		Orders:   &usecase.OrderService{Repo: a.store, Notifier: dispatcher, Log: a.log},
		Identity: &usecase.IdentityService{JWTSecret: cfg.JWTSecret},
		Limiter:  a.limiter(),
		Health: []server.HealthCheck{
			{Name: "database", Critical: true, Ping: a.store.Ping},
			{Name: "queue", Ping: broker.Ping},
		},
		Log: a.log,
	}
	if cfg.StripeWebhookSecret != "" {
		deps.Stripe = &stripe.WebhookVerifier{Secret: cfg.StripeWebhookSecret}
	}
	if wc != nil {
		deps.Wechat = wc
	}

	var bg sync.WaitGroup
	if cfg.WorkerInProcess || local {
		w := a.worker(broker)
		bg.Add(1)
		go func() {
			defer bg.Done()
			w.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.New(cfg, deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			stop()
			bg.Wait()
			return err
		}
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.Error("http shutdown", "err", err)
	}
	svc.Wait()
	stop()
	bg.Wait()
	return nil
}
