// Package postgres applies the embedded Postgres schema.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var migrationsFS embed.FS

// Apply runs every migration not yet recorded in migrations_history, each in
// its own transaction. It returns the names it applied.
func Apply(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	if err := createHistoryTable(ctx, pool); err != nil {
		return nil, err
	}

	files, err := Files()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, filename := range files {
		done, err := isMigrationApplied(ctx, pool, filename)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}

		if err := applyFile(ctx, pool, filename); err != nil {
			return applied, err
		}
		applied = append(applied, filename)
	}

	return applied, nil
}

// Files lists the embedded migrations in apply order.
func Files() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

func applyFile(ctx context.Context, pool *pgxpool.Pool, filename string) error {
	content, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+filename)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", filename, err)
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for stmt := range strings.SplitSeq(string(content), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", filename, err)
			}
		}
		if _, err := tx.Exec(ctx, "INSERT INTO migrations_history (name) VALUES ($1)", filename); err != nil {
			return fmt.Errorf("recording migration %s: %w", filename, err)
		}
		return nil
	})
}

func createHistoryTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migrations_history (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("creating migrations history table: %w", err)
	}
	return nil
}

func isMigrationApplied(ctx context.Context, pool *pgxpool.Pool, name string) (bool, error) {
	var count int
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM migrations_history WHERE name = $1", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking if migration applied: %w", err)
	}
	return count > 0, nil
}
