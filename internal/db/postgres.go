package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garrettladley/hookgate/internal/migrations/postgres"
)

// ConnectPostgres opens a pool and applies pending migrations. It returns
// the migrations it applied.
func ConnectPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, []string, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}

	applied, err := postgres.Apply(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return pool, applied, nil
}
