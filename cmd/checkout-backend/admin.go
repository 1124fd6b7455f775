package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"checkout-backend/internal/config"
	"checkout-backend/internal/usecase"
)

func migrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DatabaseURL == "" {
				return errors.New("migrate needs a database: set CHECKOUT_DATABASE_URL or --database-url")
			}
			a, err := newApp(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.migrate(cmd.Context()); err != nil {
				return err
			}
			a.log.Info("schema up to date")
			return nil
		},
	}
}

func tokenCmd(cfg *config.Config) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token [customer-id]",
		Short: "Issue a customer session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := &usecase.IdentityService{JWTSecret: cfg.JWTSecret}
			tok, err := ids.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func shipCmd(cfg *config.Config) *cobra.Command {
	var req usecase.ShipRequest
	cmd := &cobra.Command{
		Use:   "ship [order-id]",
		Short: "Mark an order shipped and email the tracking details",
		Long: `Mark a paid, unfulfilled order as shipped.

Examples:
  checkout-backend ship 5f0c... --carrier UPS --tracking 1Z999AA10123456784
  checkout-backend ship 5f0c... --carrier DHL --tracking 123 --tracking-url https://dhl.example/123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.close()

			broker, local := a.broker()
			d := a.dispatcher(broker)
			if local {
				// Nothing would consume an in-memory job after exit.
				d.Queued, d.Probe = nil, nil
			}
			svc := &usecase.OrderService{Repo: a.store, Notifier: d, Log: a.log}
			req.OrderID = args[0]
			o, err := svc.MarkShipped(ctx, req)
			if err != nil {
				return err
			}
			d.Wait()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(o)
		},
	}
	cmd.Flags().StringVar(&req.Carrier, "carrier", "", "shipping carrier")
	cmd.Flags().StringVar(&req.TrackingNumber, "tracking", "", "tracking number")
	cmd.Flags().StringVar(&req.TrackingURL, "tracking-url", "", "public tracking link")
	return cmd
}
