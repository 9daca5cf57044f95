package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in Redis so every API replica shares one window.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Increment pipelines INCR with PTTL and sets the expiry when the key has none.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("ratelimit increment: %w", err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("ratelimit expire: %w", err)
		}
		ttl = window
	}
	return incr.Val(), ttl, nil
}
