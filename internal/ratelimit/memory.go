package ratelimit

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

const (
	memoryShards        = 64
	memorySweepInterval = time.Minute
)

type bucket struct {
	index   int64
	count   int
	expires time.Time
}

type memoryShard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// MemoryStore keeps counters in process. Limits are per process, so several
// gateway replicas each admit the full limit.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
	done   chan struct{}
	once   sync.Once
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{done: make(chan struct{})}
	for i := range m.shards {
		m.shards[i] = &memoryShard{buckets: make(map[string]*bucket)}
	}

	go m.cleanupLoop()

	return m
}

func (m *MemoryStore) CheckAndIncrement(_ context.Context, key string, rules []Rule, now time.Time) (Result, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	res := Result{Allowed: true}
	indexes := make([]int64, len(rules))
	for i, rule := range rules {
		index, reset := window(rule, now)
		indexes[i] = index

		b := s.buckets[ruleKey(key, rule)]
		if b == nil || b.index != index {
			continue
		}
		if b.count >= rule.Limit {
			res.Allowed = false
			if reset > res.RetryAfter {
				res.RetryAfter = reset
				res.Rule = rule
			}
		}
	}
	if !res.Allowed {
		return res, nil
	}

	for i, rule := range rules {
		k := ruleKey(key, rule)
		b := s.buckets[k]
		if b == nil {
			b = &bucket{}
			s.buckets[k] = b
		}
		if b.index != indexes[i] {
			b.index = indexes[i]
			b.count = 0
			b.expires = time.UnixMilli((indexes[i] + 1) * rule.Window.Milliseconds())
		}
		b.count++
	}
	return res, nil
}

func (m *MemoryStore) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShards]
}

// sweep drops buckets whose window has ended.
func (m *MemoryStore) sweep(now time.Time) int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, b := range s.buckets {
			if !now.Before(b.expires) {
				delete(s.buckets, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (m *MemoryStore) size() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}

func (m *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(memorySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.sweep(now)
		case <-m.done:
			return
		}
	}
}

func ruleKey(key string, rule Rule) string {
	return key + ":" + strconv.FormatInt(rule.Window.Milliseconds(), 10)
}
