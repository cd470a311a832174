// Package cache provides an optional Redis-backed completion cache for the
// model gateway. Identical requests (provider, model, messages, sampling
// parameters) return the cached completion without a provider round trip.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/types"
)

// RedisCache implements llm.Cache on a Redis instance.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to Redis and returns the cache. A zero TTL disables
// expiry.
func NewRedisCache(addr, password string, db int, ttl time.Duration, logger *zap.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "completion_cache")),
	}
}

// Key derives a deterministic cache key from the full request shape.
func (c *RedisCache) Key(provider, model string, messages []types.Message, opts llm.ChatOptions) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%.3f\x00%d\x00", provider, model, opts.Temperature, opts.MaxTokens)
	for _, m := range messages {
		fmt.Fprintf(h, "%s\x00%s\x00", m.Role, m.Content)
	}
	return "chat:" + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached completion for key, if any. Errors degrade to a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.Error(err))
		return "", false
	}
	return value, true
}

// Set stores a completion. Errors are logged and ignored; the cache is a pure
// optimisation.
func (c *RedisCache) Set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
	}
}

// Close releases the underlying connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
