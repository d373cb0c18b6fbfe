// SPDX-License-Identifier: MIT

package quote

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResult(total float64) Result {
	return Result{
		Success:    true,
		Courier:    "中通",
		Base:       8,
		Total:      total,
		SourceTier: TierCostTable,
		ProducedAt: time.Now(),
	}
}

func TestCacheFreshStaleMissTimeline(t *testing.T) {
	now := time.Now()
	c := NewCache(0, WithCacheClock(func() time.Time { return now }))

	c.Put("k", testResult(12.5), 60*time.Second, 300*time.Second)

	got, state := c.Get("k")
	require.Equal(t, CacheFresh, state)
	assert.Equal(t, 12.5, got.Total)

	// Past the primary TTL but inside max-stale.
	now = now.Add(61 * time.Second)
	got, state = c.Get("k")
	require.Equal(t, CacheStale, state)
	assert.Equal(t, 12.5, got.Total)

	// Past the stale window.
	now = now.Add(301 * time.Second)
	_, state = c.Get("k")
	assert.Equal(t, CacheMiss, state)
}

func TestCacheMissForUnknownKey(t *testing.T) {
	c := NewCache(0)
	_, state := c.Get("absent")
	assert.Equal(t, CacheMiss, state)
}

func TestCacheEntryCapEvictsOldestExpiring(t *testing.T) {
	now := time.Now()
	c := NewCache(0, WithCacheClock(func() time.Time { return now }), WithMaxEntries(3))

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		c.Put(key, testResult(float64(i)), time.Duration(i+1)*time.Minute, time.Minute)
	}
	c.Put("k3", testResult(3), 10*time.Minute, time.Minute)

	// k0 had the soonest stale deadline and must be gone.
	_, state := c.Get("k0")
	assert.Equal(t, CacheMiss, state)
	_, state = c.Get("k3")
	assert.Equal(t, CacheFresh, state)
	assert.Equal(t, 3, c.Stats().CurrentSize)
}

func TestCacheStats(t *testing.T) {
	now := time.Now()
	c := NewCache(0, WithCacheClock(func() time.Time { return now }))

	c.Put("k", testResult(1), time.Minute, time.Minute)
	c.Get("k")
	c.Get("nope")
	now = now.Add(90 * time.Second)
	c.Get("k")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.StaleHits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}
