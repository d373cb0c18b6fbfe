// SPDX-License-Identifier: MIT

package quote

import (
	"sort"
	"sync"
	"time"

	"github.com/silasqian/quoteflow/internal/metrics"
)

// CacheState classifies a cache lookup.
type CacheState int

const (
	CacheMiss CacheState = iota
	CacheFresh
	CacheStale // past primary TTL but inside the stale-while-revalidate window
)

func (s CacheState) String() string {
	switch s {
	case CacheFresh:
		return "fresh"
	case CacheStale:
		return "stale"
	default:
		return "miss"
	}
}

// CacheStats holds cache performance counters.
type CacheStats struct {
	Hits        int64
	StaleHits   int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

type cacheEntry struct {
	value      Result
	expiresAt  time.Time // primary TTL boundary
	staleUntil time.Time // end of the revalidatable window
}

// Cache is a TTL + stale-while-revalidate store for quote results. Eviction
// is time based; a hard entry cap bounds memory, evicting oldest-expiring
// entries first when exceeded.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	stats   CacheStats
	maxSize int
	now     func() time.Time
	janitor *janitor
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock injects a clock for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithMaxEntries overrides the hard entry cap.
func WithMaxEntries(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// NewCache creates a quote cache. A cleanupInterval > 0 starts a background
// janitor that drops entries past their stale window.
func NewCache(cleanupInterval time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		maxSize: 4096,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}

	return c
}

// Get retrieves a result. Fresh hits are authoritative; stale hits must be
// treated as degraded and refreshed off the hot path by the caller.
func (c *Cache) Get(key string) (Result, CacheState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, found := c.entries[key]
	if !found {
		c.stats.Misses++
		metrics.RecordCacheEvent("miss")
		return Result{}, CacheMiss
	}

	if !now.After(e.expiresAt) {
		c.stats.Hits++
		metrics.RecordCacheEvent("fresh")
		return e.value, CacheFresh
	}

	if !now.After(e.staleUntil) {
		c.stats.StaleHits++
		metrics.RecordCacheEvent("stale")
		return e.value, CacheStale
	}

	delete(c.entries, key)
	c.stats.Evictions++
	c.stats.Misses++
	metrics.RecordCacheEvent("miss")
	return Result{}, CacheMiss
}

// Put stores a result with its primary TTL and revalidatable stale window.
func (c *Cache) Put(key string, value Result, ttl, maxStale time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &cacheEntry{
		value:      value,
		expiresAt:  now.Add(ttl),
		staleUntil: now.Add(ttl + maxStale),
	}
	c.stats.Sets++

	if len(c.entries) > c.maxSize {
		c.evictOldestLocked(len(c.entries) - c.maxSize)
	}
}

// evictOldestLocked removes n entries ordered by soonest stale deadline.
// Caller must hold the lock.
func (c *Cache) evictOldestLocked(n int) {
	type candidate struct {
		key   string
		until time.Time
	}
	candidates := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		candidates = append(candidates, candidate{key: k, until: e.staleUntil})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].until.Before(candidates[j].until)
	})
	for i := 0; i < n && i < len(candidates); i++ {
		delete(c.entries, candidates[i].key)
		c.stats.Evictions++
	}
}

// Stats returns cache performance counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

// deleteExpired removes all entries past their stale window.
func (c *Cache) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0
	for key, e := range c.entries {
		if now.After(e.staleUntil) {
			delete(c.entries, key)
			count++
		}
	}
	c.stats.Evictions += int64(count)
	return count
}

// Stop stops the background janitor.
func (c *Cache) Stop() {
	if c.janitor != nil {
		c.janitor.stop <- struct{}{}
	}
}

// janitor performs periodic cleanup of expired entries.
type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(c *Cache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}
