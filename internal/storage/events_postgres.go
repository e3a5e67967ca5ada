package storage

import (
	"context"
	"errors"
	"fmt"

	go_json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/garrettladley/hookgate/internal/webhook"
)

const liveChannelPrefix = "webhooks:live:"

var _ EventStore = (*PostgresEventStore)(nil)

const insertEvent = `
INSERT INTO webhook_events (provider, event_id, event_type, payload, received_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (provider, event_id) DO NOTHING
RETURNING id`

const eventsSince = `
SELECT id, provider, event_id, event_type, payload, received_at
FROM webhook_events
WHERE provider = $1 AND id > $2
ORDER BY id
LIMIT $3`

// PostgresEventStore writes events to webhook_events and, when a Redis
// client is set, publishes each newly inserted event on
// webhooks:live:<provider>.
type PostgresEventStore struct {
	db    DBTX
	redis *redis.Client
}

func NewPostgresEventStore(db DBTX, redis *redis.Client) *PostgresEventStore {
	return &PostgresEventStore{db: db, redis: redis}
}

func liveChannel(provider string) string {
	return liveChannelPrefix + provider
}

func (s *PostgresEventStore) Append(ctx context.Context, ev webhook.Event) (bool, error) {
	var id int64
	err := s.db.QueryRow(ctx, insertEvent,
		ev.Provider, ev.ID, ev.Type, ev.Payload, ev.ReceivedAt,
	).Scan(&id)
	// no row when ON CONFLICT DO NOTHING triggers; the first insert already published
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}

	if s.redis == nil {
		return true, nil
	}

	data, err := go_json.Marshal(StoredEvent{
		ID:         id,
		Provider:   ev.Provider,
		EventID:    ev.ID,
		EventType:  ev.Type,
		ReceivedAt: ev.ReceivedAt,
	})
	if err != nil {
		return true, fmt.Errorf("marshal webhook event: %w", err)
	}
	if err := s.redis.Publish(ctx, liveChannel(ev.Provider), string(data)).Err(); err != nil {
		return true, fmt.Errorf("publish webhook event: %w", err)
	}
	return true, nil
}

func (s *PostgresEventStore) Since(ctx context.Context, provider string, cursor int64, limit int) ([]StoredEvent, error) {
	rows, err := s.db.Query(ctx, eventsSince, provider, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("query webhook events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (StoredEvent, error) {
		var e StoredEvent
		err := row.Scan(&e.ID, &e.Provider, &e.EventID, &e.EventType, &e.Payload, &e.ReceivedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan webhook events: %w", err)
	}
	return events, nil
}

// Subscribe streams events published for provider. The returned function
// unsubscribes.
func (s *PostgresEventStore) Subscribe(ctx context.Context, provider string) (<-chan StoredEvent, func(), error) {
	if s.redis == nil {
		return nil, nil, errors.New("live events need a redis client")
	}

	pubsub := s.redis.Subscribe(ctx, liveChannel(provider))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan StoredEvent)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var e StoredEvent
			if err := go_json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }, nil
}
