package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	_ Store  = (*PostgresStore)(nil)
	_ Pruner = (*PostgresStore)(nil)
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// an existing row is only overwritten once its retention has ended, which
// re-admits the key in the same statement
const markSeenPostgres = `
INSERT INTO webhook_deliveries (provider, event_id, seen_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (provider, event_id) DO UPDATE
SET seen_at = EXCLUDED.seen_at, expires_at = EXCLUDED.expires_at
WHERE webhook_deliveries.expires_at <= EXCLUDED.seen_at
RETURNING event_id`

const releasePostgres = `DELETE FROM webhook_deliveries WHERE provider = $1 AND event_id = $2`

const prunePostgres = `DELETE FROM webhook_deliveries WHERE expires_at <= $1`

type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CheckAndMarkSeen(ctx context.Context, key Key, retention time.Duration, now time.Time) (bool, error) {
	var id string
	err := p.db.QueryRow(ctx, markSeenPostgres, key.Provider, key.EventID, now, now.Add(retention)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert webhook delivery: %w", err)
	}
	return true, nil
}

func (p *PostgresStore) Release(ctx context.Context, key Key) error {
	if _, err := p.db.Exec(ctx, releasePostgres, key.Provider, key.EventID); err != nil {
		return fmt.Errorf("delete webhook delivery: %w", err)
	}
	return nil
}

func (p *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, prunePostgres, before)
	if err != nil {
		return 0, fmt.Errorf("prune webhook deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
