// SPDX-License-Identifier: MIT

package quote

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCachePutGet(t *testing.T) {
	c, _ := newMiniRedisCache(t)
	ctx := context.Background()

	c.Put(ctx, "k", testResult(9.9), 60*time.Second, 300*time.Second)

	got, state := c.Get(ctx, "k")
	require.Equal(t, CacheFresh, state)
	assert.Equal(t, 9.9, got.Total)
	assert.Equal(t, "中通", got.Courier)
}

func TestRedisCacheStaleWindow(t *testing.T) {
	c, _ := newMiniRedisCache(t)
	ctx := context.Background()

	c.Put(ctx, "k", testResult(9.9), 60*time.Second, 300*time.Second)

	// Age the entry past its TTL but inside the stale window.
	base := time.Now()
	c.now = func() time.Time { return base.Add(120 * time.Second) }

	got, state := c.Get(ctx, "k")
	require.Equal(t, CacheStale, state)
	assert.Equal(t, 9.9, got.Total)

	// Past the stale window the entry no longer serves.
	c.now = func() time.Time { return base.Add(400 * time.Second) }
	_, state = c.Get(ctx, "k")
	assert.Equal(t, CacheMiss, state)
}

func TestRedisCacheMiss(t *testing.T) {
	c, _ := newMiniRedisCache(t)
	_, state := c.Get(context.Background(), "absent")
	assert.Equal(t, CacheMiss, state)
}

func TestRedisCacheHealthCheck(t *testing.T) {
	c, mr := newMiniRedisCache(t)
	assert.NoError(t, c.HealthCheck(context.Background()))
	mr.Close()
	assert.Error(t, c.HealthCheck(context.Background()))
}
