// Package lock implements the §6 Redis external interface as the §4.7
// distributed lock a TopicCoordinator uses to keep at most one process
// working a topic at a time: setIfAbsentWithTtl (Redis SETNX-with-expiry)
// and del.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client is the minimal Redis surface the coordinator needs.
type Client interface {
	// TryAcquire attempts to set key to value with the given TTL iff key
	// is currently absent. Returns true iff this call set the key.
	TryAcquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Release deletes key, relinquishing the lock. Deleting a key this
	// client does not hold is a caller error the lock package does not
	// try to detect (no compare-and-delete script is used, matching the
	// simple SETNX model); callers should only Release keys they
	// themselves acquired.
	Release(ctx context.Context, key string) error
}

type redisClient struct {
	rdb *redis.Client
}

// New wraps an existing *redis.Client as a Client.
func New(rdb *redis.Client) Client {
	return &redisClient{rdb: rdb}
}

func (c *redisClient) TryAcquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock: setnx %s: %w", key, err)
	}
	return ok, nil
}

func (c *redisClient) Release(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("lock: del %s: %w", key, err)
	}
	return nil
}
