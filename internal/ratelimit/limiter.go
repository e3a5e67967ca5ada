// Package ratelimit applies per-client, per-route-class fixed window limits
// backed by an in-process or Redis store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/garrettladley/hookgate/internal/metrics"
)

// Result is a store's answer for one identity and class.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
	Rule       Rule
}

// Store atomically checks every rule window for key and increments all of
// them only when all pass.
type Store interface {
	CheckAndIncrement(ctx context.Context, key string, rules []Rule, now time.Time) (Result, error)
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Rule       Rule
	Class      Class
	Exceed     Exceed
}

type Limiter struct {
	store  Store
	policy Policy
	now    func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(store Store, policy Policy, opts ...Option) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if _, ok := policy[ClassDefault]; !ok {
		return nil, fmt.Errorf("%w: policy has no %s class", ErrInvalidRule, ClassDefault)
	}

	l := &Limiter{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow records one request from identity against class.
func (l *Limiter) Allow(ctx context.Context, identity string, class Class) (Decision, error) {
	class, cp := l.policy.Resolve(class)
	d := Decision{Allowed: true, Class: class, Exceed: cp.Exceed}
	if len(cp.Rules) == 0 {
		return d, nil
	}

	res, err := l.store.CheckAndIncrement(ctx, bucketKey(identity, class), cp.Rules, l.now())
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check rate limit: %w", err)
	}

	d.Allowed = res.Allowed
	d.RetryAfter = res.RetryAfter
	d.Rule = res.Rule
	if !d.Allowed {
		metrics.RateLimitHits.WithLabelValues(class.String()).Inc()
	}
	return d, nil
}

func bucketKey(identity string, class Class) string {
	return class.String() + ":" + identity
}

// window locates now within rule's fixed window.
func window(rule Rule, now time.Time) (index int64, reset time.Duration) {
	ms := rule.Window.Milliseconds()
	nowMs := now.UnixMilli()
	index = nowMs / ms
	reset = time.Duration((index+1)*ms-nowMs) * time.Millisecond
	return index, reset
}
