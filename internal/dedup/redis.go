package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

const redisKeyPrefix = "dedup:"

// RedisStore relies on key expiry for retention and needs no pruning.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) key(k Key) string {
	return redisKeyPrefix + k.String()
}

func (r *RedisStore) CheckAndMarkSeen(ctx context.Context, key Key, retention time.Duration, now time.Time) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), now.UnixMilli(), retention).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event seen: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) Release(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to release event: %w", err)
	}
	return nil
}
