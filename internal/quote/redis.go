// SPDX-License-Identifier: MIT

package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// RedisCache is a shared second-level quote cache. Workers keep their
// in-process Cache as the first level; Redis lets a quote priced by one
// worker serve stale-while-revalidate hits on its peers.
type RedisCache struct {
	client *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

type redisEnvelope struct {
	Result          Result    `json:"result"`
	StoredAt        time.Time `json:"stored_at"`
	TTLSeconds      int       `json:"ttl_seconds"`
	MaxStaleSeconds int       `json:"max_stale_seconds"`
}

// NewRedisCache connects to Redis and returns the shared cache tier.
func NewRedisCache(config RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("connected to Redis quote cache")

	return &RedisCache{
		client: client,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Get retrieves a quote result and its freshness state from Redis. Errors
// are logged and reported as misses so the provider chain can take over.
func (c *RedisCache) Get(ctx context.Context, key string) (Result, CacheState) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Result{}, CacheMiss
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		return Result{}, CacheMiss
	}

	var env redisEnvelope
	if err := json.Unmarshal(val, &env); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("quote envelope unmarshal failed")
		return Result{}, CacheMiss
	}

	age := c.now().Sub(env.StoredAt)
	if age <= time.Duration(env.TTLSeconds)*time.Second {
		return env.Result, CacheFresh
	}
	if age <= time.Duration(env.TTLSeconds+env.MaxStaleSeconds)*time.Second {
		return env.Result, CacheStale
	}
	return Result{}, CacheMiss
}

// Put stores a quote result with its validity window. The Redis key expires
// at the end of the stale window.
func (c *RedisCache) Put(ctx context.Context, key string, value Result, ttl, maxStale time.Duration) {
	if ttl <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, err := json.Marshal(redisEnvelope{
		Result:          value,
		StoredAt:        c.now(),
		TTLSeconds:      int(ttl.Seconds()),
		MaxStaleSeconds: int(maxStale.Seconds()),
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("quote envelope marshal failed")
		return
	}

	if err := c.client.Set(ctx, key, data, ttl+maxStale).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// HealthCheck checks if Redis is available.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
