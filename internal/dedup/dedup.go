// Package dedup remembers which (provider, event id) pairs have already been
// handled so a redelivered event is acknowledged without side effects.
package dedup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/garrettladley/hookgate/internal/metrics"
	"github.com/garrettladley/hookgate/internal/xslog"
)

// DefaultRetention covers the redelivery window of both providers.
const DefaultRetention = 7 * 24 * time.Hour

var ErrEmptyKey = errors.New("dedup key requires provider and event id")

type Key struct {
	Provider string
	EventID  string
}

func (k Key) String() string { return k.Provider + ":" + k.EventID }

func (k Key) valid() bool { return k.Provider != "" && k.EventID != "" }

type Admission int

const (
	FirstSeen Admission = iota
	Duplicate
)

func (a Admission) String() string {
	if a == FirstSeen {
		return "first_seen"
	}
	return "duplicate"
}

// Store marks keys as seen. CheckAndMarkSeen must be atomic on a single key:
// of any number of concurrent calls for one unexpired key, exactly one
// reports true.
type Store interface {
	CheckAndMarkSeen(ctx context.Context, key Key, retention time.Duration, now time.Time) (bool, error)
	Release(ctx context.Context, key Key) error
}

// Pruner is implemented by stores that need explicit retention sweeps.
type Pruner interface {
	// Prune deletes records whose retention ended at or before before.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type Deduplicator struct {
	store     Store
	history   []Pruner
	retention time.Duration
	now       func() time.Time
}

type Option func(*Deduplicator)

func WithRetention(d time.Duration) Option {
	return func(dd *Deduplicator) {
		if d > 0 {
			dd.retention = d
		}
	}
}

// WithHistory adds stores that keep one record per admitted event.
// RunRetention drops their records received before now minus the retention,
// so they never outlive the dedup horizon.
func WithHistory(p ...Pruner) Option {
	return func(dd *Deduplicator) { dd.history = append(dd.history, p...) }
}

func WithClock(now func() time.Time) Option {
	return func(dd *Deduplicator) { dd.now = now }
}

func New(store Store, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		store:     store,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deduplicator) Retention() time.Duration { return d.retention }

// Admit reports whether key is being seen for the first time within the
// retention horizon. Duplicate is not an error.
func (d *Deduplicator) Admit(ctx context.Context, key Key) (Admission, error) {
	if !key.valid() {
		return Duplicate, ErrEmptyKey
	}
	first, err := d.store.CheckAndMarkSeen(ctx, key, d.retention, d.now())
	if err != nil {
		return Duplicate, err
	}
	if first {
		return FirstSeen, nil
	}
	return Duplicate, nil
}

// Release forgets key so a redelivery after a transient failure is admitted.
func (d *Deduplicator) Release(ctx context.Context, key Key) error {
	if !key.valid() {
		return ErrEmptyKey
	}
	return d.store.Release(ctx, key)
}

// Prune removes expired records. Stores that expire keys on their own report
// zero.
func (d *Deduplicator) Prune(ctx context.Context) (int64, error) {
	p, ok := d.store.(Pruner)
	if !ok {
		return 0, nil
	}
	n, err := p.Prune(ctx, d.now())
	if err != nil {
		return 0, err
	}
	metrics.DedupPruned.Add(float64(n))
	return n, nil
}

// PruneHistory drops history records older than the retention.
func (d *Deduplicator) PruneHistory(ctx context.Context) (int64, error) {
	before := d.now().Add(-d.retention)
	var (
		total int64
		errs  []error
	)
	for _, p := range d.history {
		n, err := p.Prune(ctx, before)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// RunRetention prunes dedup records and history every interval until ctx is
// done.
func (d *Deduplicator) RunRetention(ctx context.Context, interval time.Duration) error {
	if _, ok := d.store.(Pruner); !ok && len(d.history) == 0 {
		return nil
	}

	logger := xslog.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.sweep(ctx, logger)
		}
	}
}

func (d *Deduplicator) sweep(ctx context.Context, logger *slog.Logger) {
	n, err := d.Prune(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to prune dedup records", xslog.Error(err))
	} else if n > 0 {
		logger.InfoContext(ctx, "pruned dedup records", xslog.Pruned(n), xslog.Retention(d.retention))
	}

	n, err = d.PruneHistory(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to prune event history", xslog.Error(err))
	}
	if n > 0 {
		logger.InfoContext(ctx, "pruned event history", xslog.Pruned(n), xslog.Retention(d.retention))
	}
}
