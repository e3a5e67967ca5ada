package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garrettladley/hookgate/internal/db"
	"github.com/garrettladley/hookgate/internal/dedup"
)

func pruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete dedup records whose retention has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}

			var store dedup.Store
			switch cfg.Backend {
			case backendPostgres:
				if cfg.DatabaseURL == "" {
					return fmt.Errorf("DATABASE_URL is required")
				}
				pool, _, err := db.ConnectPostgres(cmd.Context(), cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer pool.Close()
				store = dedup.NewPostgresStore(pool)
			case backendSQLite:
				sqlDB, _, err := db.OpenSQLite(cmd.Context(), cfg.SQLitePath)
				if err != nil {
					return err
				}
				defer func() {
					_ = sqlDB.Close()
				}()
				store = dedup.NewSQLiteStore(sqlDB)
			default:
				return fmt.Errorf("unsupported backend %q", cfg.Backend)
			}

			n, err := dedup.New(store).Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d dedup records\n", n)
			return nil
		},
	}
	addBackendFlag(cmd)
	return cmd
}
