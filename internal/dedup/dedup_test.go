package dedup

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var testTime = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// harness runs one store implementation through the shared behaviour.
type harness struct {
	store Store
	// advance moves time forward for stores with their own clock
	advance func(time.Duration)
}

type storeCase struct {
	newHarness func(t *testing.T) harness
	prunable   bool
	// serial subtests share one database and must not overlap
	serial bool
}

func testStore(t *testing.T, sc storeCase) {
	t.Helper()

	newHarness := sc.newHarness
	parallel := func(t *testing.T) {
		if !sc.serial {
			t.Parallel()
		}
	}

	t.Run("first seen then duplicate", func(t *testing.T) {
		parallel(t)

		h := newHarness(t)
		d := New(h.store, WithClock(func() time.Time { return testTime }))
		ctx := context.Background()
		key := Key{Provider: "stripe", EventID: "evt_123"}

		got, err := d.Admit(ctx, key)
		if err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		if got != FirstSeen {
			t.Fatalf("Admit() = %s, want first_seen", got)
		}

		got, err = d.Admit(ctx, key)
		if err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		if got != Duplicate {
			t.Fatalf("Admit() = %s, want duplicate", got)
		}
	})

	t.Run("keys are scoped by provider", func(t *testing.T) {
		parallel(t)

		h := newHarness(t)
		d := New(h.store)
		ctx := context.Background()

		for _, key := range []Key{
			{Provider: "stripe", EventID: "shared"},
			{Provider: "meta", EventID: "shared"},
		} {
			if got, err := d.Admit(ctx, key); err != nil || got != FirstSeen {
				t.Fatalf("Admit(%s) = %s, %v; want first_seen", key, got, err)
			}
		}
	})

	t.Run("concurrent admits", func(t *testing.T) {
		parallel(t)

		h := newHarness(t)
		d := New(h.store)
		key := Key{Provider: "meta", EventID: "mid.concurrent"}

		var (
			wg         sync.WaitGroup
			firstSeen  atomic.Int64
			duplicates atomic.Int64
			failures   atomic.Int64
		)
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := d.Admit(context.Background(), key)
				switch {
				case err != nil:
					failures.Add(1)
				case got == FirstSeen:
					firstSeen.Add(1)
				default:
					duplicates.Add(1)
				}
			}()
		}
		wg.Wait()

		if n := failures.Load(); n != 0 {
			t.Fatalf("%d admits failed", n)
		}
		if n := firstSeen.Load(); n != 1 {
			t.Errorf("first seen = %d, want 1", n)
		}
		if n := duplicates.Load(); n != 99 {
			t.Errorf("duplicates = %d, want 99", n)
		}
	})

	t.Run("release readmits", func(t *testing.T) {
		parallel(t)

		h := newHarness(t)
		d := New(h.store)
		ctx := context.Background()
		key := Key{Provider: "stripe", EventID: "evt_retry"}

		if got, _ := d.Admit(ctx, key); got != FirstSeen {
			t.Fatalf("Admit() = %s, want first_seen", got)
		}
		if err := d.Release(ctx, key); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
		if got, _ := d.Admit(ctx, key); got != FirstSeen {
			t.Fatalf("Admit() after release = %s, want first_seen", got)
		}
	})

	t.Run("expired record readmitted", func(t *testing.T) {
		parallel(t)

		h := newHarness(t)
		clock := &fakeClock{now: testTime}
		d := New(h.store, WithRetention(time.Hour), WithClock(clock.Now))
		ctx := context.Background()
		key := Key{Provider: "stripe", EventID: "evt_old"}

		if got, _ := d.Admit(ctx, key); got != FirstSeen {
			t.Fatalf("Admit() = %s, want first_seen", got)
		}

		clock.Advance(59 * time.Minute)
		h.advance(59 * time.Minute)
		if got, _ := d.Admit(ctx, key); got != Duplicate {
			t.Fatalf("Admit() inside retention = %s, want duplicate", got)
		}

		clock.Advance(2 * time.Minute)
		h.advance(2 * time.Minute)
		if got, _ := d.Admit(ctx, key); got != FirstSeen {
			t.Fatalf("Admit() after retention = %s, want first_seen", got)
		}
	})

	if sc.prunable {
		t.Run("prune removes expired", func(t *testing.T) {
			parallel(t)

			h := newHarness(t)
			clock := &fakeClock{now: testTime}
			d := New(h.store, WithRetention(time.Hour), WithClock(clock.Now))
			ctx := context.Background()

			for _, id := range []string{"a", "b"} {
				if _, err := d.Admit(ctx, Key{Provider: "meta", EventID: id}); err != nil {
					t.Fatalf("Admit() error = %v", err)
				}
			}
			clock.Advance(30 * time.Minute)
			if _, err := d.Admit(ctx, Key{Provider: "meta", EventID: "c"}); err != nil {
				t.Fatalf("Admit() error = %v", err)
			}

			clock.Advance(45 * time.Minute)
			n, err := d.Prune(ctx)
			if err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			if n != 2 {
				t.Errorf("Prune() = %d, want 2", n)
			}
			if got, _ := d.Admit(ctx, Key{Provider: "meta", EventID: "c"}); got != Duplicate {
				t.Errorf("Admit(c) = %s, want duplicate", got)
			}
		})
	}
}

func noAdvance(time.Duration) {}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	testStore(t, storeCase{
		newHarness: func(t *testing.T) harness {
			return harness{store: NewMemoryStore(), advance: noAdvance}
		},
		prunable: true,
	})
}

func TestAdmitRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	d := New(NewMemoryStore())
	tests := []Key{
		{},
		{Provider: "stripe"},
		{EventID: "evt_123"},
	}
	for _, key := range tests {
		if _, err := d.Admit(context.Background(), key); !errors.Is(err, ErrEmptyKey) {
			t.Errorf("Admit(%+v) error = %v, want %v", key, err, ErrEmptyKey)
		}
		if err := d.Release(context.Background(), key); !errors.Is(err, ErrEmptyKey) {
			t.Errorf("Release(%+v) error = %v, want %v", key, err, ErrEmptyKey)
		}
	}
}

type failingStore struct{}

func (failingStore) CheckAndMarkSeen(context.Context, Key, time.Duration, time.Time) (bool, error) {
	return false, errors.New("connection reset")
}

func (failingStore) Release(context.Context, Key) error { return nil }

func TestAdmitStoreError(t *testing.T) {
	t.Parallel()

	d := New(failingStore{})
	if _, err := d.Admit(context.Background(), Key{Provider: "stripe", EventID: "evt_1"}); err == nil {
		t.Fatal("Admit() error = nil, want error")
	}
	// not a Pruner
	if n, err := d.Prune(context.Background()); n != 0 || err != nil {
		t.Errorf("Prune() = %d, %v; want 0, nil", n, err)
	}
}

func TestWithRetention(t *testing.T) {
	t.Parallel()

	if got := New(NewMemoryStore()).Retention(); got != DefaultRetention {
		t.Errorf("default Retention() = %s, want %s", got, DefaultRetention)
	}
	if got := New(NewMemoryStore(), WithRetention(0)).Retention(); got != DefaultRetention {
		t.Errorf("WithRetention(0) Retention() = %s, want %s", got, DefaultRetention)
	}
	if got := New(NewMemoryStore(), WithRetention(time.Hour)).Retention(); got != time.Hour {
		t.Errorf("Retention() = %s, want 1h", got)
	}
}

func TestRunRetention(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	clock := &fakeClock{now: testTime}
	d := New(store, WithRetention(time.Minute), WithClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := d.Admit(ctx, Key{Provider: "meta", EventID: "m1"}); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	clock.Advance(2 * time.Minute)

	done := make(chan error, 1)
	go func() { done <- d.RunRetention(ctx, 10*time.Millisecond) }()

	deadline := time.After(5 * time.Second)
	for {
		if storeEmpty(store) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("retention loop never pruned")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("RunRetention() error = %v", err)
	}
}

func storeEmpty(m *MemoryStore) bool {
	for _, s := range m.shards {
		s.mu.Lock()
		n := len(s.expires)
		s.mu.Unlock()
		if n > 0 {
			return false
		}
	}
	return true
}

type historyStub struct {
	mu      sync.Mutex
	befores []time.Time
	err     error
}

func (h *historyStub) Prune(_ context.Context, before time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.befores = append(h.befores, before)
	return 2, h.err
}

func (h *historyStub) calls() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.befores)
}

// expiringStore drops keys on its own, like Redis, so it has no Prune.
type expiringStore struct{ Store }

func TestPruneHistory(t *testing.T) {
	t.Parallel()

	ok := &historyStub{}
	failing := &historyStub{err: errors.New("disk full")}
	d := New(NewMemoryStore(),
		WithRetention(time.Hour),
		WithClock(func() time.Time { return testTime }),
		WithHistory(ok, failing),
	)

	n, err := d.PruneHistory(context.Background())
	if err == nil {
		t.Error("PruneHistory() error = nil, want the failing store's error")
	}
	if n != 4 {
		t.Errorf("PruneHistory() = %d, want 4", n)
	}
	want := []time.Time{testTime.Add(-time.Hour)}
	if diff := cmp.Diff(want, ok.calls()); diff != "" {
		t.Errorf("prune cutoff mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRetentionPrunesHistoryWithoutPrunableStore(t *testing.T) {
	t.Parallel()

	history := &historyStub{}
	d := New(expiringStore{NewMemoryStore()}, WithHistory(history))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.RunRetention(ctx, 10*time.Millisecond) }()

	deadline := time.After(5 * time.Second)
	for len(history.calls()) == 0 {
		select {
		case <-deadline:
			t.Fatal("retention loop never pruned history")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("RunRetention() error = %v", err)
	}
}
