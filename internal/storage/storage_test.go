package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	go_json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/garrettladley/hookgate/internal/webhook"
)

var testTime = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func event(provider, id string) webhook.Event {
	return webhook.Event{
		Provider:   provider,
		ID:         id,
		Type:       "checkout.session.completed",
		Payload:    []byte(`{"id":"` + id + `"}`),
		ReceivedAt: testTime,
	}
}

func testEventStore(t *testing.T, newStore func(t *testing.T) EventStore) {
	t.Run("append and read back", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for _, id := range []string{"evt_1", "evt_2"} {
			inserted, err := store.Append(ctx, event("stripe", id))
			if err != nil {
				t.Fatalf("Append(%s) error = %v", id, err)
			}
			if !inserted {
				t.Fatalf("Append(%s) = false, want true", id)
			}
		}

		got, err := store.Since(ctx, "stripe", 0, 10)
		if err != nil {
			t.Fatalf("Since() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Since() returned %d events, want 2", len(got))
		}
		if got[0].EventID != "evt_1" || got[1].EventID != "evt_2" {
			t.Errorf("Since() order = %s, %s", got[0].EventID, got[1].EventID)
		}
		if !got[0].ReceivedAt.Equal(testTime) {
			t.Errorf("ReceivedAt = %s, want %s", got[0].ReceivedAt, testTime)
		}
		assertJSONEqual(t, got[0].Payload, []byte(`{"id":"evt_1"}`))

		after, err := store.Since(ctx, "stripe", got[0].ID, 10)
		if err != nil {
			t.Fatalf("Since(cursor) error = %v", err)
		}
		if len(after) != 1 || after[0].EventID != "evt_2" {
			t.Errorf("Since(cursor) = %+v, want only evt_2", after)
		}
	})

	t.Run("duplicate append is a no-op", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if _, err := store.Append(ctx, event("stripe", "evt_123")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		inserted, err := store.Append(ctx, event("stripe", "evt_123"))
		if err != nil {
			t.Fatalf("second Append() error = %v", err)
		}
		if inserted {
			t.Error("second Append() = true, want false")
		}

		got, _ := store.Since(ctx, "stripe", 0, 10)
		if len(got) != 1 {
			t.Errorf("stored %d events, want 1", len(got))
		}
	})

	t.Run("providers are separate", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, _ = store.Append(ctx, event("stripe", "shared"))
		inserted, err := store.Append(ctx, event("meta", "shared"))
		if err != nil || !inserted {
			t.Fatalf("Append(meta) = %t, %v; want true, nil", inserted, err)
		}

		got, _ := store.Since(ctx, "meta", 0, 10)
		if len(got) != 1 || got[0].Provider != "meta" {
			t.Errorf("Since(meta) = %+v", got)
		}
	})

	t.Run("limit", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for _, id := range []string{"a", "b", "c"} {
			_, _ = store.Append(ctx, event("meta", id))
		}
		got, err := store.Since(ctx, "meta", 0, 2)
		if err != nil {
			t.Fatalf("Since() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("Since(limit 2) returned %d events", len(got))
		}
	})

	t.Run("concurrent appends insert once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			inserted int
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.Append(ctx, event("stripe", "evt_race"))
				if err != nil {
					t.Errorf("Append() error = %v", err)
					return
				}
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if inserted != 1 {
			t.Errorf("inserted = %d, want 1", inserted)
		}
	})
}

func testDeadLetterStore(t *testing.T, newStore func(t *testing.T) DeadLetterStore) {
	t.Run("record and list newest first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		letters := []webhook.DeadLetter{
			{Source: "meta", Payload: []byte(`{"entry":"x"}`), Reason: "malformed", CreatedAt: testTime},
			{Source: "stripe", EventID: "evt_1", Payload: []byte(`{"id":"evt_1"}`), Reason: "unknown customer", CreatedAt: testTime.Add(time.Second)},
			{Source: "meta", EventID: "m_1", Payload: []byte(`{}`), Reason: "bad recipient", Retries: 2, CreatedAt: testTime.Add(2 * time.Second)},
		}
		for _, dl := range letters {
			if err := store.RecordDeadLetter(ctx, dl); err != nil {
				t.Fatalf("RecordDeadLetter() error = %v", err)
			}
		}

		all, err := store.DeadLetters(ctx, "", 10)
		if err != nil {
			t.Fatalf("DeadLetters() error = %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("DeadLetters() returned %d, want 3", len(all))
		}
		if all[0].EventID != "m_1" || all[2].Reason != "malformed" {
			t.Errorf("DeadLetters() order = %q, %q", all[0].EventID, all[2].Reason)
		}
		for _, dl := range all {
			if dl.ID == "" {
				t.Error("dead letter without id")
			}
		}

		metaOnly, err := store.DeadLetters(ctx, "meta", 10)
		if err != nil {
			t.Fatalf("DeadLetters(meta) error = %v", err)
		}
		got := make([]string, 0, len(metaOnly))
		for _, dl := range metaOnly {
			got = append(got, dl.Reason)
		}
		if diff := cmp.Diff([]string{"bad recipient", "malformed"}, got); diff != "" {
			t.Errorf("DeadLetters(meta) reasons mismatch (-want +got):\n%s", diff)
		}
		if string(metaOnly[1].Payload) != `{"entry":"x"}` {
			t.Errorf("payload = %q", metaOnly[1].Payload)
		}
		if metaOnly[0].Retries != 2 {
			t.Errorf("retries = %d, want 2", metaOnly[0].Retries)
		}
	})

	t.Run("limit", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for range 3 {
			_ = store.RecordDeadLetter(ctx, webhook.DeadLetter{Source: "meta", Payload: []byte("x"), Reason: "r", CreatedAt: testTime})
		}
		got, _ := store.DeadLetters(ctx, "", 1)
		if len(got) != 1 {
			t.Errorf("DeadLetters(limit 1) returned %d", len(got))
		}
	})
}

func TestMemoryEventStore(t *testing.T) {
	t.Parallel()
	testEventStore(t, func(*testing.T) EventStore { return NewMemoryEventStore(0) })
}

func TestMemoryDeadLetterStore(t *testing.T) {
	t.Parallel()
	testDeadLetterStore(t, func(*testing.T) DeadLetterStore { return NewMemoryDeadLetterStore(0) })
}

func TestMemoryEventStoreCopiesPayload(t *testing.T) {
	t.Parallel()

	store := NewMemoryEventStore(0)
	ev := event("stripe", "evt_1")
	_, _ = store.Append(context.Background(), ev)
	ev.Payload[0] = 'X'

	got, _ := store.Since(context.Background(), "stripe", 0, 1)
	got[0].Payload[1] = 'Y'

	again, _ := store.Since(context.Background(), "stripe", 0, 1)
	if string(again[0].Payload) != `{"id":"evt_1"}` {
		t.Errorf("stored payload changed to %q", again[0].Payload)
	}
}

func TestMemoryEventStoreBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryEventStore(3)
	for _, id := range []string{"evt_1", "evt_2", "evt_3", "evt_4", "evt_5"} {
		if _, err := store.Append(ctx, event("stripe", id)); err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
	}

	got, _ := store.Since(ctx, "stripe", 0, 10)
	var ids []string
	for _, e := range got {
		ids = append(ids, e.EventID)
	}
	if diff := cmp.Diff([]string{"evt_3", "evt_4", "evt_5"}, ids); diff != "" {
		t.Errorf("kept events mismatch (-want +got):\n%s", diff)
	}
	if got[0].ID != 3 {
		t.Errorf("first kept id = %d, want ids to keep counting", got[0].ID)
	}

	// an evicted key no longer blocks its event
	if inserted, _ := store.Append(ctx, event("stripe", "evt_1")); !inserted {
		t.Error("Append(evt_1) after eviction = false, want true")
	}
}

func TestMemoryEventStorePrune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryEventStore(0)

	old := event("stripe", "evt_old")
	old.ReceivedAt = testTime.Add(-8 * 24 * time.Hour)
	fresh := event("stripe", "evt_fresh")
	for _, ev := range []webhook.Event{old, fresh} {
		if _, err := store.Append(ctx, ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	n, err := store.Prune(ctx, testTime.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}

	got, _ := store.Since(ctx, "stripe", 0, 10)
	if len(got) != 1 || got[0].EventID != "evt_fresh" {
		t.Errorf("remaining events = %+v, want only evt_fresh", got)
	}
	if inserted, _ := store.Append(ctx, old); !inserted {
		t.Error("pruned event key still held")
	}
}

func TestMemoryDeadLetterStoreBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryDeadLetterStore(2)
	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		_ = store.RecordDeadLetter(ctx, webhook.DeadLetter{Source: "stripe", EventID: id, Reason: "boom"})
	}

	got, _ := store.DeadLetters(ctx, "", 10)
	var ids []string
	for _, dl := range got {
		ids = append(ids, dl.EventID)
	}
	if diff := cmp.Diff([]string{"evt_3", "evt_2"}, ids); diff != "" {
		t.Errorf("kept dead letters mismatch (-want +got):\n%s", diff)
	}
}

type failingEventStore struct{}

func (failingEventStore) Append(context.Context, webhook.Event) (bool, error) {
	return false, errors.New("connection reset")
}

func (failingEventStore) Since(context.Context, string, int64, int) ([]StoredEvent, error) {
	return nil, nil
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		store         EventStore
		event         webhook.Event
		wantErr       bool
		wantPermanent bool
	}{
		{name: "records", store: NewMemoryEventStore(0), event: event("stripe", "evt_1")},
		{name: "store failure is transient", store: failingEventStore{}, event: event("stripe", "evt_1"), wantErr: true},
		{
			name:          "empty payload is permanent",
			store:         NewMemoryEventStore(0),
			event:         webhook.Event{Provider: "meta", ID: "m_1"},
			wantErr:       true,
			wantPermanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Recorder(tt.store).Handle(context.Background(), tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle() error = %v, wantErr %t", err, tt.wantErr)
			}
			if got := webhook.IsPermanent(err); got != tt.wantPermanent {
				t.Errorf("IsPermanent() = %t, want %t", got, tt.wantPermanent)
			}
		})
	}
}

func assertJSONEqual(t *testing.T, got, want []byte) {
	t.Helper()

	var g, w any
	if err := go_json.Unmarshal(got, &g); err != nil {
		t.Fatalf("got %q is not json: %v", got, err)
	}
	if err := go_json.Unmarshal(want, &w); err != nil {
		t.Fatalf("want %q is not json: %v", want, err)
	}
	if diff := cmp.Diff(w, g); diff != "" {
		t.Errorf("json mismatch (-want +got):\n%s", diff)
	}
}
