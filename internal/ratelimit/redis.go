package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is an optional Store backend for multi-instance deployments.
// Each key's counter lives in Redis with the window as its TTL, so all
// instances sharing the client see the same fixed window.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store. prefix namespaces the keys so
// several limiters can share one Redis instance.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	rkey := fmt.Sprintf("%s:%s", s.prefix, key)

	count, err := s.client.Incr(ctx, rkey).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("incr %s: %w", rkey, err)
	}

	// First hit in a window owns setting the TTL. ExpireNX guards against
	// resetting the window if another instance raced this one to it.
	if count == 1 {
		if err := s.client.ExpireNX(ctx, rkey, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("expire %s: %w", rkey, err)
		}
		return int(count), time.Now().Add(window), nil
	}

	ttl, err := s.client.TTL(ctx, rkey).Result()
	if err != nil || ttl < 0 {
		// Counter without a TTL (e.g. a crashed writer): repair it.
		ttl = window
		_ = s.client.Expire(ctx, rkey, window).Err()
	}
	return int(count), time.Now().Add(ttl), nil
}

// Sweep is a no-op: Redis TTLs expire entries server-side.
func (s *RedisStore) Sweep(context.Context) error {
	return nil
}
