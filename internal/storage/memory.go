package storage

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garrettladley/hookgate/internal/dedup"
	"github.com/garrettladley/hookgate/internal/webhook"
)

var (
	_ EventStore      = (*MemoryEventStore)(nil)
	_ DeadLetterStore = (*MemoryDeadLetterStore)(nil)
	_ dedup.Pruner    = (*MemoryEventStore)(nil)
)

const (
	DefaultMaxEvents      = 10_000
	DefaultMaxDeadLetters = 1_000
)

// MemoryEventStore keeps the newest maxEvents events. Older events are
// dropped on append and by Prune.
type MemoryEventStore struct {
	mu        sync.RWMutex
	events    []StoredEvent
	keys      map[dedup.Key]struct{}
	nextID    int64
	maxEvents int
}

func NewMemoryEventStore(maxEvents int) *MemoryEventStore {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &MemoryEventStore{keys: make(map[dedup.Key]struct{}), maxEvents: maxEvents}
}

func (m *MemoryEventStore) Append(_ context.Context, ev webhook.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[ev.Key()]; ok {
		return false, nil
	}
	m.keys[ev.Key()] = struct{}{}
	m.nextID++
	m.events = append(m.events, StoredEvent{
		ID:         m.nextID,
		Provider:   ev.Provider,
		EventID:    ev.ID,
		EventType:  ev.Type,
		Payload:    bytes.Clone(ev.Payload),
		ReceivedAt: ev.ReceivedAt,
	})
	if over := len(m.events) - m.maxEvents; over > 0 {
		m.dropOldest(over)
	}
	return true, nil
}

// Prune drops events received before before.
func (m *MemoryEventStore) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := len(m.events)
	m.events = slices.DeleteFunc(m.events, func(e StoredEvent) bool {
		if !e.ReceivedAt.Before(before) {
			return false
		}
		delete(m.keys, dedup.Key{Provider: e.Provider, EventID: e.EventID})
		return true
	})
	return int64(kept - len(m.events)), nil
}

func (m *MemoryEventStore) dropOldest(n int) {
	for _, e := range m.events[:n] {
		delete(m.keys, dedup.Key{Provider: e.Provider, EventID: e.EventID})
	}
	m.events = slices.Delete(m.events, 0, n)
}

func (m *MemoryEventStore) Since(_ context.Context, provider string, cursor int64, limit int) ([]StoredEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []StoredEvent
	for _, e := range m.events {
		if len(out) == limit {
			break
		}
		if e.Provider == provider && e.ID > cursor {
			e.Payload = bytes.Clone(e.Payload)
			out = append(out, e)
		}
	}
	return out, nil
}

// MemoryDeadLetterStore keeps the newest maxLetters dead letters.
type MemoryDeadLetterStore struct {
	mu         sync.RWMutex
	letters    []StoredDeadLetter
	maxLetters int
}

func NewMemoryDeadLetterStore(maxLetters int) *MemoryDeadLetterStore {
	if maxLetters <= 0 {
		maxLetters = DefaultMaxDeadLetters
	}
	return &MemoryDeadLetterStore{maxLetters: maxLetters}
}

func (m *MemoryDeadLetterStore) RecordDeadLetter(_ context.Context, dl webhook.DeadLetter) error {
	dl.Payload = bytes.Clone(dl.Payload)

	m.mu.Lock()
	m.letters = append(m.letters, StoredDeadLetter{ID: uuid.NewString(), DeadLetter: dl})
	if over := len(m.letters) - m.maxLetters; over > 0 {
		m.letters = slices.Delete(m.letters, 0, over)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryDeadLetterStore) DeadLetters(_ context.Context, source string, limit int) ([]StoredDeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []StoredDeadLetter
	for _, dl := range slices.Backward(m.letters) {
		if len(out) == limit {
			break
		}
		if source == "" || dl.Source == source {
			out = append(out, dl)
		}
	}
	return out, nil
}
