// Package cache implements the TTL cache in front of upstream providers.
// Reads are side-effect free apart from hit/miss accounting; a fetch failure
// can be absorbed by returning the previous (possibly expired) entry.
package cache

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/metrics"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
)

// Config holds cache configuration
type Config struct {
	MaxEntries      int           `json:"maxEntries" yaml:"maxEntries"`           // capacity bound, oldest-inserted evicted first
	CleanupInterval time.Duration `json:"cleanupInterval" yaml:"cleanupInterval"` // background sweep cadence
	StaleRetention  time.Duration `json:"staleRetention" yaml:"staleRetention"`   // how long expired entries stay reachable as stale fallback
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		MaxEntries:      10000,
		CleanupInterval: 5 * time.Minute,
		StaleRetention:  time.Hour,
	}
}

// FetchFunc produces the value for a key on a cache miss.
type FetchFunc func(ctx context.Context) (interface{}, error)

type entry struct {
	value     interface{}
	createdAt time.Time
	ttl       time.Duration
	seq       uint64
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.createdAt) <= e.ttl
}

type orderRec struct {
	key string
	seq uint64
}

// Cache is a capacity-bounded TTL cache with stale-on-error fallback.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []orderRec // insertion order, used for capacity eviction
	nextSeq uint64

	config  Config
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *utils.Logger

	hits      int64
	misses    int64
	staleHits int64
	evictions int64
}

// New creates a cache with the given configuration.
func New(config Config, m *metrics.Metrics) *Cache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultConfig().MaxEntries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if config.StaleRetention <= 0 {
		config.StaleRetention = DefaultConfig().StaleRetention
	}

	return &Cache{
		entries: make(map[string]*entry),
		config:  config,
		metrics: m,
		logger:  utils.CacheLogger,
	}
}

// Fingerprint derives a stable cache key from the request parts.
func Fingerprint(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:16])
}

// GetOrPopulate returns the fresh value for key, calling fetch on a miss.
// On fetch failure any existing entry for the key, even an expired one, is
// returned as a stale fallback and the error is suppressed. Concurrent
// misses for the same key share a single fetch.
func (c *Cache) GetOrPopulate(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (interface{}, error) {
	if value, ok := c.lookupFresh(key); ok {
		return value, nil
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another waiter may have populated the key while we queued.
		if value, ok := c.lookupFresh(key); ok {
			return value, nil
		}
		c.recordMiss()

		value, err := fetch(ctx)
		if err != nil {
			if stale, ok := c.lookupAny(key); ok {
				c.recordStaleHit()
				c.logger.Warn("fetch failed for %s, serving stale entry: %v", key, err)
				return stale, nil
			}
			return nil, err
		}

		c.Set(key, value, ttl)
		return value, nil
	})
	return value, err
}

// lookupFresh returns the value only if it has not expired, counting a hit.
func (c *Cache) lookupFresh(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.fresh(time.Now()) {
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	c.metrics.IncCacheHit()
	return e.value, true
}

// lookupAny returns the value regardless of expiry, without accounting.
func (c *Cache) lookupAny(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) recordMiss() {
	atomic.AddInt64(&c.misses, 1)
	c.metrics.IncCacheMiss()
}

func (c *Cache) recordStaleHit() {
	atomic.AddInt64(&c.staleHits, 1)
	c.metrics.IncCacheStaleHit()
}

// Get returns the value for key along with its freshness. No accounting.
func (c *Cache) Get(key string) (value interface{}, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists {
		return nil, false, false
	}
	return e.value, e.fresh(time.Now()), true
}

// Set stores value under key with the given TTL, evicting the oldest-inserted
// entries when the capacity bound is exceeded.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSeq++
	c.entries[key] = &entry{
		value:     value,
		createdAt: time.Now(),
		ttl:       ttl,
		seq:       c.nextSeq,
	}
	c.order = append(c.order, orderRec{key: key, seq: c.nextSeq})
	c.evictLocked()
}

// evictLocked pops insertion-order records until the map fits the bound.
// Records whose seq no longer matches the live entry are stale (the key was
// overwritten or deleted) and are skipped.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.config.MaxEntries && len(c.order) > 0 {
		rec := c.order[0]
		c.order = c.order[1:]

		e, ok := c.entries[rec.key]
		if !ok || e.seq != rec.seq {
			continue
		}
		delete(c.entries, rec.key)
		atomic.AddInt64(&c.evictions, 1)
		c.metrics.IncCacheEviction()
	}
}

// Delete removes the entry for key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Flush removes all entries.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = nil
}

// MGet returns the fresh values for the given keys, preserving per-key
// hit/miss accounting.
func (c *Cache) MGet(keys []string) map[string]interface{} {
	results := make(map[string]interface{}, len(keys))
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		e, ok := c.entries[key]
		if ok && e.fresh(now) {
			atomic.AddInt64(&c.hits, 1)
			c.metrics.IncCacheHit()
			results[key] = e.value
		} else {
			atomic.AddInt64(&c.misses, 1)
			c.metrics.IncCacheMiss()
		}
	}
	return results
}

// MSet stores multiple key/value pairs with a shared TTL.
func (c *Cache) MSet(values map[string]interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, value := range values {
		c.nextSeq++
		c.entries[key] = &entry{
			value:     value,
			createdAt: now,
			ttl:       ttl,
			seq:       c.nextSeq,
		}
		c.order = append(c.order, orderRec{key: key, seq: c.nextSeq})
	}
	c.evictLocked()
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats holds cache counters for introspection endpoints.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	StaleHits int64 `json:"staleHits"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// GetStats returns a snapshot of the counters.
func (c *Cache) GetStats() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		StaleHits: atomic.LoadInt64(&c.staleHits),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      c.Len(),
	}
}

// Start runs the periodic cleanup sweep until ctx is cancelled. Expired
// entries are kept within StaleRetention so they remain available as stale
// fallbacks, and are dropped once that window also passes.
func (c *Cache) Start(ctx context.Context) {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := c.sweep()
			if removed > 0 {
				c.logger.Debug("cleanup removed %d entries", removed)
			}
		}
	}
}

func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.createdAt) > e.ttl+c.config.StaleRetention {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
