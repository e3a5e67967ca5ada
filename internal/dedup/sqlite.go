package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Pruner = (*SQLiteStore)(nil)
)

const markSeenSQLite = `
INSERT INTO webhook_deliveries (provider, event_id, seen_at, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (provider, event_id) DO UPDATE
SET seen_at = excluded.seen_at, expires_at = excluded.expires_at
WHERE webhook_deliveries.expires_at <= excluded.seen_at`

const releaseSQLite = `DELETE FROM webhook_deliveries WHERE provider = ? AND event_id = ?`

const pruneSQLite = `DELETE FROM webhook_deliveries WHERE expires_at <= ?`

// SQLiteStore keeps times as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) CheckAndMarkSeen(ctx context.Context, key Key, retention time.Duration, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, markSeenSQLite,
		key.Provider, key.EventID, now.UnixMilli(), now.Add(retention).UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert webhook delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert webhook delivery: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Release(ctx context.Context, key Key) error {
	if _, err := s.db.ExecContext(ctx, releaseSQLite, key.Provider, key.EventID); err != nil {
		return fmt.Errorf("delete webhook delivery: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, pruneSQLite, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune webhook deliveries: %w", err)
	}
	return res.RowsAffected()
}
