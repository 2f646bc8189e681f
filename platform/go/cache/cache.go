// Package cache provides the generation-stamped read-through cache used by the
// theme resolver. A generation counter invalidates every derived entry at once:
// theme writes bump the counter instead of enumerating stale keys.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is the surface the theme resolver depends on. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Generation(ctx context.Context) int64
	Bump(ctx context.Context) int64
}

const generationKey = "uiconfig:theme:gen"

// RedisCache backs the Cache contract with a shared Redis instance. Cache
// errors degrade to misses; Redis being down slows resolution, never breaks it.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache set", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisCache) Generation(ctx context.Context) int64 {
	generation, err := c.client.Get(ctx, generationKey).Int64()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache generation read", zap.Error(err))
		}
		return 0
	}
	return generation
}

func (c *RedisCache) Bump(ctx context.Context) int64 {
	generation, err := c.client.Incr(ctx, generationKey).Result()
	if err != nil {
		c.logger.Warn("cache generation bump", zap.Error(err))
		return 0
	}
	return generation
}
