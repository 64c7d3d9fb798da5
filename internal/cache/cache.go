// Package cache implements get-or-refresh memoization: an in-process layer in front of an
// optional Redis layer, both bounded by a TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is safe for concurrent use. The zero Redis client is allowed; values then live
// only in process memory.
type Cache struct {
	redis     redisAPI
	namespace string
	logger    *zap.Logger
	nowFunc   func() time.Time

	mu    sync.Mutex
	local map[string]entry

	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a Cache. client may be nil.
func New(client redisAPI, namespace string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		redis:     client,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
		local:     map[string]entry{},
	}
}

// NewRedisClient connects to Redis and pings it. An empty addr returns (nil, nil).
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      3,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (c *Cache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

// Stats returns hit and miss counts since construction.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	now := c.nowFunc()
	c.mu.Lock()
	e, ok := c.local[key]
	if ok && now.After(e.expiresAt) {
		delete(c.local, key)
		ok = false
	}
	c.mu.Unlock()
	if ok {
		return e.value, true
	}
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (c *Cache) store(ctx context.Context, key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	c.local[key] = entry{value: data, expiresAt: c.nowFunc().Add(ttl)}
	c.mu.Unlock()
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// GetOrRefresh returns the cached value for k, or calls loader and caches its result for
// ttl. Loader errors are returned and nothing is cached. Cache failures never fail the call.
func GetOrRefresh[T any](ctx context.Context, c *Cache, k string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	key := c.key(k)
	if data, ok := c.lookup(ctx, key); ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			c.hits.Add(1)
			return v, nil
		}
		c.logger.Warn("cache entry undecodable, refreshing", zap.String("key", key))
	}
	c.misses.Add(1)

	v, err := loader(ctx)
	if err != nil {
		return v, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return v, nil
	}
	c.store(ctx, key, data, ttl)
	return v, nil
}
