// Package cache is a JSON read-through cache on top of Redis. Entries expire by
// TTL only; nothing invalidates them on write.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/redis"
)

// Store is the key/value surface backing the cache.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheKey(scope, id string) string
}

// Cache wraps a Store. Store failures never fail the caller; they are logged
// and the value is loaded from the source.
type Cache struct {
	store Store
	logg  *logger.Logger
}

func New(store Store, logg *logger.Logger) *Cache {
	return &Cache{store: store, logg: logg}
}

// Fetch returns the cached value for (scope, id) or calls load and caches its
// result for ttl. Load errors are returned and never cached.
func Fetch[T any](ctx context.Context, c *Cache, scope, id string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	if c == nil || c.store == nil || ttl <= 0 {
		return load(ctx)
	}

	key := c.store.CacheKey(scope, id)
	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var cached T
		jsonErr := json.Unmarshal([]byte(raw), &cached)
		if jsonErr == nil {
			return cached, nil
		}
		c.warn(ctx, key, "decode cached value", jsonErr)
	case !errors.Is(err, redis.Nil):
		c.warn(ctx, key, "read cache", err)
	}

	value, err := load(ctx)
	if err != nil {
		return value, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		c.warn(ctx, key, "encode cache value", err)
		return value, nil
	}
	if err := c.store.Set(ctx, key, string(encoded), ttl); err != nil {
		c.warn(ctx, key, "write cache", err)
	}
	return value, nil
}

func (c *Cache) warn(ctx context.Context, key, op string, err error) {
	if c.logg == nil {
		return
	}
	ctx = c.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()})
	c.logg.Warn(ctx, op+" failed")
}
