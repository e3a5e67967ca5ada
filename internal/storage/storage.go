// Package storage persists applied webhook events and dead letters.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/garrettladley/hookgate/internal/webhook"
)

var ErrEmptyPayload = errors.New("event payload is empty")

// StoredEvent is an event as recorded in the event log.
type StoredEvent struct {
	ID         int64     `json:"id"`
	Provider   string    `json:"provider"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Payload    []byte    `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}

type EventStore interface {
	// Append records ev. It reports false, with no error, when
	// (provider, event id) is already present.
	Append(ctx context.Context, ev webhook.Event) (bool, error)

	// Since returns up to limit events for provider with an ID greater than
	// cursor, oldest first.
	Since(ctx context.Context, provider string, cursor int64, limit int) ([]StoredEvent, error)
}

type StoredDeadLetter struct {
	ID string
	webhook.DeadLetter
}

type DeadLetterStore interface {
	webhook.DeadLetterRecorder

	// DeadLetters returns the newest dead letters for source, or for every
	// source when source is empty.
	DeadLetters(ctx context.Context, source string, limit int) ([]StoredDeadLetter, error)
}

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Recorder is a webhook handler that appends every event to store. Store
// errors are transient so the provider redelivers.
func Recorder(store EventStore) webhook.Handler {
	return webhook.HandlerFunc(func(ctx context.Context, ev webhook.Event) error {
		if len(ev.Payload) == 0 {
			return webhook.Permanent(ErrEmptyPayload)
		}
		if _, err := store.Append(ctx, ev); err != nil {
			return webhook.Transient(err)
		}
		return nil
	})
}
