package dedup

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

var (
	_ Store  = (*MemoryStore)(nil)
	_ Pruner = (*MemoryStore)(nil)
)

const memoryShards = 64

type memoryShard struct {
	mu      sync.Mutex
	expires map[Key]time.Time
}

// MemoryStore is process local. Deliveries retried against another replica
// are not recognised as duplicates.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	for i := range m.shards {
		m.shards[i] = &memoryShard{expires: make(map[Key]time.Time)}
	}
	return m
}

func (m *MemoryStore) CheckAndMarkSeen(_ context.Context, key Key, retention time.Duration, now time.Time) (bool, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[key] = now.Add(retention)
	return true, nil
}

func (m *MemoryStore) Release(_ context.Context, key Key) error {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.expires, key)
	s.mu.Unlock()
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	var removed int64
	for _, s := range m.shards {
		s.mu.Lock()
		for k, exp := range s.expires {
			if !before.Before(exp) {
				delete(s.expires, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

func (m *MemoryStore) shard(key Key) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.Provider))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.EventID))
	return m.shards[h.Sum32()%memoryShards]
}
