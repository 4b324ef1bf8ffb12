package cache

import (
	"regexp"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/tierkeep/tierkeep"
)

// SimpleCacheConfig configures the single-tier store.
type SimpleCacheConfig struct {
	Capacity   int
	DefaultTTL time.Duration

	// Policy selects the eviction strategy; LRU when empty.
	Policy tierkeep.EvictionPolicy
}

func (c SimpleCacheConfig) withDefaults() SimpleCacheConfig {
	if c.Capacity <= 0 {
		c.Capacity = 1000
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = time.Hour
	}
	if c.Policy == "" {
		c.Policy = tierkeep.EvictionLRU
	}
	return c
}

// SimpleCache is the single-tier fallback used when multi-tier mode is
// disabled. It serves the same narrow contract as the tiered store, so
// callers never depend on which mode the orchestrator picked.
type SimpleCache struct {
	mu       sync.RWMutex
	clk      clock.Clock
	logger   *zap.SugaredLogger
	config   SimpleCacheConfig
	strategy EvictionStrategy
	entries  map[string]*Entry

	hits        int64
	misses      int64
	evictions   int64
	lookups     int64
	lookupTotal time.Duration
}

// NewSimpleCache builds the single-tier store.
func NewSimpleCache(config SimpleCacheConfig, clk clock.Clock, logger *zap.SugaredLogger) (*SimpleCache, error) {
	config = config.withDefaults()
	strategy, err := NewEvictionStrategy(config.Policy)
	if err != nil {
		return nil, err
	}
	return &SimpleCache{
		clk:      clk,
		logger:   logger,
		config:   config,
		strategy: strategy,
		entries:  make(map[string]*Entry),
	}, nil
}

// Get returns the live value for key and refreshes its access metadata.
func (c *SimpleCache) Get(key string) (value any, found bool) {
	start := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		c.lookups++
		c.lookupTotal += c.clk.Now().Sub(start)
	}()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if entry.Expired(start) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	entry.AccessCount++
	entry.LastAccessedAt = start
	c.hits++
	return entry.Value, true
}

// Set stores value, evicting one entry by the configured strategy when the
// cache is full. Overwriting a key carries its access count forward so LFU
// ranking keeps the key's history.
func (c *SimpleCache) Set(key string, value any, ttl ...time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	effectiveTTL := c.config.DefaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		effectiveTTL = ttl[0]
	}

	prior, exists := c.entries[key]
	if !exists && len(c.entries) >= c.config.Capacity {
		c.evictOneLocked(now)
	}

	entry := &Entry{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    1,
		Size:           estimateSize(value, c.logger),
		TTL:            effectiveTTL,
	}
	if exists && !prior.Expired(now) {
		entry.AccessCount = prior.AccessCount + 1
	}
	c.entries[key] = entry
}

// Has reports liveness without touching access metadata.
func (c *SimpleCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return ok && !entry.Expired(c.clk.Now())
}

// Delete removes the entry and reports whether it existed.
func (c *SimpleCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear removes every entry.
func (c *SimpleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Size returns the number of live entries. Expired entries are logically
// absent and not counted, even before the expiry sweep removes them.
func (c *SimpleCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liveCountLocked(c.clk.Now())
}

func (c *SimpleCache) liveCountLocked(now time.Time) int {
	count := 0
	for _, entry := range c.entries {
		if !entry.Expired(now) {
			count++
		}
	}
	return count
}

// Metrics returns a snapshot of the cache's counters.
func (c *SimpleCache) Metrics() tierkeep.CacheMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics := tierkeep.CacheMetrics{
		Size:      c.liveCountLocked(c.clk.Now()),
		Capacity:  c.config.Capacity,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		metrics.HitRatio = float64(c.hits) / float64(total) * 100
	}
	if c.lookups > 0 {
		metrics.AverageLookupTime = c.lookupTotal / time.Duration(c.lookups)
	}
	return metrics
}

// RemoveExpired sweeps out expired entries.
func (c *SimpleCache) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Optimize on a single-tier store is just the expiry sweep: there are no
// tiers to rebalance.
func (c *SimpleCache) Optimize() {
	c.RemoveExpired()
}

// InvalidatePattern removes every key matching the pattern.
func (c *SimpleCache) InvalidatePattern(pattern *regexp.Regexp) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if pattern.MatchString(key) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *SimpleCache) evictOneLocked(now time.Time) {
	candidates := make([]*Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		candidates = append(candidates, entry)
	}
	pressure := PressureForUtilization(float64(len(c.entries)) / float64(c.config.Capacity))
	for _, victim := range c.strategy.SelectVictims(candidates, 1, pressure, now) {
		delete(c.entries, victim.Key)
		c.evictions++
		c.logger.Debugw("Evicted entry", "key", victim.Key, "strategy", c.strategy.Name())
	}
}
