package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	go_json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/garrettladley/hookgate/internal/db"
	xredis "github.com/garrettladley/hookgate/internal/redis"
	"github.com/garrettladley/hookgate/internal/storage"
)

type eventLine struct {
	ID         int64  `json:"id"`
	Provider   string `json:"provider"`
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type,omitempty"`
	ReceivedAt string `json:"received_at"`
	Payload    string `json:"payload,omitempty"`
}

func eventsCmd() *cobra.Command {
	var (
		provider    string
		after       int64
		limit       int
		withPayload bool
		follow      bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print applied webhook events as JSON lines, oldest first",
		Long: "Print applied webhook events after a cursor. With --follow, keep " +
			"printing events as the gateway applies them (needs REDIS_URL).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			if follow && cfg.RedisURL == "" {
				return errors.New("REDIS_URL is required with --follow")
			}

			pool, _, err := db.ConnectPostgres(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx := cmd.Context()
			var store *storage.PostgresEventStore
			if follow {
				client, err := xredis.New(ctx, xredis.Config{URL: cfg.RedisURL})
				if err != nil {
					return err
				}
				defer func() { _ = client.Close() }()
				store = storage.NewPostgresEventStore(pool, client)
			} else {
				store = storage.NewPostgresEventStore(pool, nil)
			}

			// subscribe before reading the backlog so nothing applied in
			// between is missed; the cursor drops the overlap
			var live <-chan storage.StoredEvent
			if follow {
				ch, unsubscribe, err := store.Subscribe(ctx, provider)
				if err != nil {
					return err
				}
				defer unsubscribe()
				live = ch
			}

			events, err := store.Since(ctx, provider, after, limit)
			if err != nil {
				return err
			}
			cursor, err := writeEvents(os.Stdout, events, after, withPayload)
			if err != nil {
				return err
			}
			if !follow {
				return nil
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-live:
					if !ok {
						return nil
					}
					if cursor, err = writeEvents(os.Stdout, []storage.StoredEvent{ev}, cursor, false); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "stripe", "provider whose events to print")
	cmd.Flags().Int64Var(&after, "after", 0, "only print events with an id greater than this")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of backlog events")
	cmd.Flags().BoolVar(&withPayload, "payload", false, "include the payload of backlog events")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing newly applied events")
	return cmd
}

// writeEvents prints events with an id above cursor and returns the highest
// id written.
func writeEvents(w io.Writer, events []storage.StoredEvent, cursor int64, withPayload bool) (int64, error) {
	enc := go_json.NewEncoder(w)
	for _, e := range events {
		if e.ID <= cursor {
			continue
		}
		line := eventLine{
			ID:         e.ID,
			Provider:   e.Provider,
			EventID:    e.EventID,
			EventType:  e.EventType,
			ReceivedAt: e.ReceivedAt.UTC().Format(time.RFC3339),
		}
		if withPayload {
			line.Payload = string(e.Payload)
		}
		if err := enc.Encode(line); err != nil {
			return cursor, fmt.Errorf("write event %d: %w", e.ID, err)
		}
		cursor = e.ID
	}
	return cursor, nil
}
