package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/garrettladley/hookgate/internal/webhook"
)

var _ DeadLetterStore = (*PostgresDeadLetterStore)(nil)

const insertDeadLetter = `
INSERT INTO webhook_dead_letters (source, event_id, payload, reason, retries, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

const selectDeadLetters = `
SELECT id, source, event_id, payload, reason, retries, created_at
FROM webhook_dead_letters
WHERE $1::text = '' OR source = $1
ORDER BY id DESC
LIMIT $2`

type PostgresDeadLetterStore struct {
	db DBTX
}

func NewPostgresDeadLetterStore(db DBTX) *PostgresDeadLetterStore {
	return &PostgresDeadLetterStore{db: db}
}

func (s *PostgresDeadLetterStore) RecordDeadLetter(ctx context.Context, dl webhook.DeadLetter) error {
	_, err := s.db.Exec(ctx, insertDeadLetter,
		dl.Source, dl.EventID, string(dl.Payload), dl.Reason, dl.Retries, dl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *PostgresDeadLetterStore) DeadLetters(ctx context.Context, source string, limit int) ([]StoredDeadLetter, error) {
	rows, err := s.db.Query(ctx, selectDeadLetters, source, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}

	letters, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (StoredDeadLetter, error) {
		var (
			id      int64
			payload string
			dl      webhook.DeadLetter
		)
		if err := row.Scan(&id, &dl.Source, &dl.EventID, &payload, &dl.Reason, &dl.Retries, &dl.CreatedAt); err != nil {
			return StoredDeadLetter{}, err
		}
		dl.Payload = []byte(payload)
		return StoredDeadLetter{ID: strconv.FormatInt(id, 10), DeadLetter: dl}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan dead letters: %w", err)
	}
	return letters, nil
}
