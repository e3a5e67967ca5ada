// Package db opens the gateway's SQL databases with their schema applied.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/garrettladley/hookgate/internal/migrations"
)

const sqliteBusyTimeoutMs = "5000"

// OpenSQLite opens the database at path, creating its directory if needed,
// and applies pending migrations. It returns the migrations it applied.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, []string, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	q := url.Values{}
	q.Set("_busy_timeout", sqliteBusyTimeoutMs)
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")

	sqlDB, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY churn
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	applied, err := migrations.Apply(ctx, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return sqlDB, applied, nil
}
