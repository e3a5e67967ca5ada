package main

import (
	"context"
	"os"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	backendPostgres = "postgres"
	backendSQLite   = "sqlite"
)

// config is the subset of the gateway environment the CLI needs.
type config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"DEDUP_SQLITE_PATH" envDefault:"data/hookgate.db"`
	Backend     string `env:"DEDUP_BACKEND" envDefault:"postgres"`
	RedisURL    string `env:"REDIS_URL"`
}

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	rootCmd.AddCommand(newMigrationCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pruneCmd())
	rootCmd.AddCommand(deadLettersCmd())
	rootCmd.AddCommand(eventsCmd())

	if err := fang.Execute(context.Background(), rootCmd, fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM)); err != nil {
		os.Exit(1)
	}
}

func readConfig(cmd *cobra.Command) (config, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return config{}, err
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	return cfg, nil
}

func addBackendFlag(cmd *cobra.Command) {
	cmd.Flags().String("backend", "", "database to use: postgres or sqlite (default $DEDUP_BACKEND)")
}
