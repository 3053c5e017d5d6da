package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps buckets as Redis counters. INCR serializes
// concurrent attempts per key; the window TTL is set only by the first
// hit, which is exactly fixed-window semantics.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a bucket store under the given key prefix
// (default "arl").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "arl"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(identifier string) string {
	return s.prefix + ":" + identifier
}

func (s *RedisStore) Incr(ctx context.Context, identifier string, window time.Duration) (int64, time.Time, error) {
	key := s.key(identifier)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if count == 1 {
		if err := s.redis.PExpire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return count, time.Now().Add(window), nil
	}

	ttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		// Counter without a TTL (first hit raced an eviction): restart
		// the window rather than leaving an unbounded bucket.
		if err := s.redis.PExpire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		ttl = window
	}

	return count, time.Now().Add(ttl), nil
}
