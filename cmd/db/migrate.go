package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garrettladley/hookgate/internal/db"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}

			var applied []string
			switch cfg.Backend {
			case backendPostgres:
				if cfg.DatabaseURL == "" {
					return fmt.Errorf("DATABASE_URL is required")
				}
				pool, a, err := db.ConnectPostgres(cmd.Context(), cfg.DatabaseURL)
				if err != nil {
					return err
				}
				pool.Close()
				applied = a
			case backendSQLite:
				sqlDB, a, err := db.OpenSQLite(cmd.Context(), cfg.SQLitePath)
				if err != nil {
					return err
				}
				_ = sqlDB.Close()
				applied = a
			default:
				return fmt.Errorf("unsupported backend %q", cfg.Backend)
			}

			for _, name := range applied {
				fmt.Printf("Applied %s\n", name)
			}
			fmt.Println("Migrations applied successfully")
			return nil
		},
	}
	addBackendFlag(cmd)
	return cmd
}
