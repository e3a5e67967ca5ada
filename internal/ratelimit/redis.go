package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

const (
	redisKeyPrefix = "ratelimit:"
	// keys outlive their window slightly so clock drift between replicas
	// does not reset a counter early
	redisExpirySlack = time.Second
)

//go:embed ratelimit.lua
var rateLimitLua string

var rateLimitScript = redis.NewScript(rateLimitLua)

// RedisStore shares counters between replicas.
type RedisStore struct {
	client redis.Scripter
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// redisKey wraps the identity in a hash tag so every window of one
// identity lands in the same cluster slot, as the script touches them
// all at once.
func redisKey(key string, rule Rule, index int64) string {
	return redisKeyPrefix + "{" + key + "}:" +
		strconv.FormatInt(rule.Window.Milliseconds(), 10) + ":" +
		strconv.FormatInt(index, 10)
}

func (r *RedisStore) CheckAndIncrement(ctx context.Context, key string, rules []Rule, now time.Time) (Result, error) {
	var (
		keys   = make([]string, len(rules))
		args   = make([]any, 0, 2*len(rules))
		resets = make([]time.Duration, len(rules))
	)
	for i, rule := range rules {
		index, reset := window(rule, now)
		keys[i] = redisKey(key, rule, index)
		resets[i] = reset
		args = append(args, rule.Limit, (reset + redisExpirySlack).Milliseconds())
	}

	denied, err := rateLimitScript.Run(ctx, r.client, keys, args...).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("failed to run rate limit script: %w", err)
	}

	res := Result{Allowed: len(denied) == 0}
	for _, d := range denied {
		i := int(d) - 1
		if i < 0 || i >= len(rules) {
			return Result{}, fmt.Errorf("rate limit script returned index %d for %d rules", d, len(rules))
		}
		if resets[i] > res.RetryAfter {
			res.RetryAfter = resets[i]
			res.Rule = rules[i]
		}
	}
	return res, nil
}
