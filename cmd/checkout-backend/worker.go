package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"checkout-backend/internal/config"
	"checkout-backend/internal/infrastructure/queue"
)

func workerCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued notification jobs",
		Long: `Consume notification jobs from Redis and deliver them by email.

Jobs left in the processing list by a crashed worker are moved back to the
ready list before consuming starts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().IntVar(&cfg.WorkerConcurrency, "concurrency", cfg.WorkerConcurrency, "parallel deliveries")
	return cmd
}

func runWorker(parent context.Context, cfg config.Config) error {
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

	broker, local := a.broker()
	if local {
		return errors.New("worker needs redis: set CHECKOUT_REDIS_ADDR")
	}
	if rq, ok := broker.(*queue.RedisQueue); ok {
		n, err := rq.Recover(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("requeued abandoned jobs", "count", n)
		}
	}
	a.worker(broker).Run(ctx)
	return nil
}
