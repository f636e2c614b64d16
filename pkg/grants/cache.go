package grants

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// EffectiveCache holds per-user snapshots of effective permission-set names.
// Invalidation is an explicit call made by the write path (profile
// reassignment, grant edits) rather than embedded TTL-only logic; the TTL is
// the staleness bound when an invalidation is missed.
type EffectiveCache interface {
	// GetNames returns the cached snapshot and whether it was present.
	GetNames(ctx context.Context, userID string) ([]string, bool, error)

	// SetNames stores the snapshot under the configured TTL.
	SetNames(ctx context.Context, userID string, names []string) error

	// Invalidate drops the user's snapshot.
	Invalidate(ctx context.Context, userID string) error

	// Close releases cache resources.
	Close() error
}

// NopCache disables caching; every read resolves from the store.
type NopCache struct{}

func (NopCache) GetNames(context.Context, string) ([]string, bool, error) { return nil, false, nil }
func (NopCache) SetNames(context.Context, string, []string) error         { return nil }
func (NopCache) Invalidate(context.Context, string) error                 { return nil }
func (NopCache) Close() error                                             { return nil }

// RedisCache is the production cache: redis with a small in-process L1 in
// front of it. Both layers expire at the same TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	l1     *expirable.LRU[string, []string]
}

// RedisCacheConfig configures the effective-rights cache.
type RedisCacheConfig struct {
	URL      string
	Password string
	DB       int
	TTL      time.Duration
	L1Size   int
}

// NewRedisCache connects to redis and verifies the connection.
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l1Size := cfg.L1Size
	if l1Size <= 0 {
		l1Size = 1024
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
		l1:     expirable.NewLRU[string, []string](l1Size, nil, ttl),
	}, nil
}

func cacheKey(userID string) string {
	return "effective:sets:" + userID
}

// GetNames returns the cached snapshot, checking L1 before redis.
func (c *RedisCache) GetNames(ctx context.Context, userID string) ([]string, bool, error) {
	if names, ok := c.l1.Get(userID); ok {
		return names, true, nil
	}

	data, err := c.client.Get(ctx, cacheKey(userID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		// Corrupt entry: drop it and report a miss.
		c.client.Del(ctx, cacheKey(userID))
		return nil, false, nil
	}
	c.l1.Add(userID, names)
	return names, true, nil
}

// SetNames stores the snapshot in both layers.
func (c *RedisCache) SetNames(ctx context.Context, userID string, names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	c.l1.Add(userID, names)
	return nil
}

// Invalidate drops the user's snapshot from both layers.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	c.l1.Remove(userID)
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Client exposes the underlying redis client for health checks.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Ping checks redis connectivity, for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis connection.
func (c *RedisCache) Close() error {
	c.l1.Purge()
	return c.client.Close()
}
