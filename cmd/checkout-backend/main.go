package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"checkout-backend/internal/config"
	"checkout-backend/internal/env"
)

var Version = "dev"

func main() {
	env.Load(".env.local", ".env")
	cfg := config.EnvDefaults()

	root := &cobra.Command{
		Use:           "checkout-backend",
		Short:         "Checkout completion and order commit service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.Env, "env", cfg.Env, "runtime environment (dev, test, prod)")
	root.PersistentFlags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	root.PersistentFlags().BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "emit JSON logs")
	root.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres DSN; empty keeps data in memory")

	root.AddCommand(
		serveCmd(&cfg),
		workerCmd(&cfg),
		migrateCmd(&cfg),
		tokenCmd(&cfg),
		shipCmd(&cfg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
