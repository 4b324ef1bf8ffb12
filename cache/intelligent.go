package cache

import (
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/tierkeep/tierkeep"
)

// Capacity split across tiers. The three shares sum to one: the configured
// capacity bounds the whole store, not each tier.
const (
	hotCapacityShare  = 0.20
	warmCapacityShare = 0.50
)

const (
	// Values below this many bytes start in the warm tier even without an
	// access history.
	smallValueBytes = 1024

	// Used when a value cannot be serialized for size estimation.
	defaultEntrySize = 512

	// Initial tier placement and rebalance thresholds.
	hotScoreThreshold  = 50.0
	warmScoreThreshold = 20.0

	// Promotion thresholds checked on reads outside the hot tier.
	promoteWarmToHot  = 60.0
	promoteColdToWarm = 30.0

	// Exponential moving average blend for access frequency.
	frequencyBlendOld = 0.9
	frequencyBlendNew = 0.1
)

var tierScanOrder = [...]Tier{TierHot, TierWarm, TierCold}

// AccessPattern is the per-key access history kept by the store. Patterns
// outlive the entries they describe: a key deleted or evicted keeps its
// history and is placed by it the next time it is set.
type AccessPattern struct {
	Key            string
	Frequency      float64
	LastAccessedAt time.Time
	Size           int64
	Score          float64
}

// TierConfig bounds a single tier.
type TierConfig struct {
	Capacity     int
	MaxEntrySize int64
	TTL          time.Duration
	Strategy     EvictionStrategy
}

// IntelligentCacheConfig configures the multi-tier store.
type IntelligentCacheConfig struct {
	// Capacity is the total entry capacity, split 20/50/30 across
	// hot/warm/cold.
	Capacity int

	// DefaultTTL applies to entries stored without an explicit TTL. The
	// cold tier doubles it since cold entries are expected to linger.
	DefaultTTL time.Duration

	// WarmPolicy and ColdPolicy select the eviction strategy for those
	// tiers. The hot tier always evicts by LRU.
	WarmPolicy tierkeep.EvictionPolicy
	ColdPolicy tierkeep.EvictionPolicy

	// MaintenanceInterval is the background expiry sweep cadence; every
	// fifth sweep also runs a full optimize pass.
	MaintenanceInterval time.Duration
}

func (c IntelligentCacheConfig) withDefaults() IntelligentCacheConfig {
	if c.Capacity <= 0 {
		c.Capacity = 1000
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = time.Hour
	}
	if c.WarmPolicy == "" {
		c.WarmPolicy = tierkeep.EvictionAdaptive
	}
	if c.ColdPolicy == "" {
		c.ColdPolicy = tierkeep.EvictionTTL
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Minute
	}
	return c
}

type tierState struct {
	config TierConfig
	keys   map[string]struct{}
}

// IntelligentCache is a three-tier in-memory store. Entries live in one
// growable table; each tier only indexes keys, so promotion and demotion are
// metadata updates. All faults inside the public operations are recovered
// and logged: the store degrades to a miss or a no-op instead of failing a
// caller's hot path.
type IntelligentCache struct {
	mu     sync.RWMutex
	clk    clock.Clock
	logger *zap.SugaredLogger
	config IntelligentCacheConfig

	entries  map[string]*Entry
	tiers    map[Tier]*tierState
	patterns map[string]*AccessPattern

	hits        int64
	misses      int64
	evictions   int64
	lookups     int64
	lookupTotal time.Duration

	maintenance *MaintenanceScheduler
}

// NewIntelligentCache builds the tiered store. Unknown eviction policies in
// the config are rejected before any tier is constructed.
func NewIntelligentCache(config IntelligentCacheConfig, clk clock.Clock, logger *zap.SugaredLogger) (*IntelligentCache, error) {
	config = config.withDefaults()

	warmStrategy, err := NewEvictionStrategy(config.WarmPolicy)
	if err != nil {
		return nil, err
	}
	coldStrategy, err := NewEvictionStrategy(config.ColdPolicy)
	if err != nil {
		return nil, err
	}
	// Hot is latency-critical, so it keeps the cheapest ranking.
	hotStrategy, err := NewEvictionStrategy(tierkeep.EvictionLRU)
	if err != nil {
		return nil, err
	}

	hotCapacity := int(math.Max(1, float64(config.Capacity)*hotCapacityShare))
	warmCapacity := int(math.Max(1, float64(config.Capacity)*warmCapacityShare))
	coldCapacity := config.Capacity - hotCapacity - warmCapacity
	if coldCapacity < 1 {
		coldCapacity = 1
	}

	store := &IntelligentCache{
		clk:      clk,
		logger:   logger,
		config:   config,
		entries:  make(map[string]*Entry),
		patterns: make(map[string]*AccessPattern),
		tiers: map[Tier]*tierState{
			TierHot: {
				config: TierConfig{Capacity: hotCapacity, MaxEntrySize: 64 * 1024, TTL: config.DefaultTTL, Strategy: hotStrategy},
				keys:   make(map[string]struct{}),
			},
			TierWarm: {
				config: TierConfig{Capacity: warmCapacity, MaxEntrySize: 256 * 1024, TTL: config.DefaultTTL, Strategy: warmStrategy},
				keys:   make(map[string]struct{}),
			},
			TierCold: {
				config: TierConfig{Capacity: coldCapacity, MaxEntrySize: 1024 * 1024, TTL: 2 * config.DefaultTTL, Strategy: coldStrategy},
				keys:   make(map[string]struct{}),
			},
		},
	}
	store.maintenance = NewMaintenanceScheduler(store, config.MaintenanceInterval, clk, logger)
	return store, nil
}

// Get scans hot, then warm, then cold. The first live match refreshes access
// metadata and may promote the entry toward the hot tier. Expired matches
// found mid-scan are removed on the spot. Hit/miss counters and lookup time
// update on every call regardless of outcome.
func (c *IntelligentCache) Get(key string) (value any, found bool) {
	defer c.recoverOp("get", key)
	start := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		c.lookups++
		c.lookupTotal += c.clk.Now().Sub(start)
	}()

	for _, tier := range tierScanOrder {
		state := c.tiers[tier]
		if _, ok := state.keys[key]; !ok {
			continue
		}
		entry := c.entries[key]
		if entry.Expired(start) {
			c.removeLocked(key)
			continue
		}
		entry.AccessCount++
		entry.LastAccessedAt = start
		pattern := c.touchPatternLocked(entry, start)
		if tier != TierHot {
			c.maybePromoteLocked(entry, pattern.Score)
		}
		c.hits++
		return entry.Value, true
	}

	c.misses++
	return nil, false
}

// Set stores value under key. The initial tier comes from the key's access
// history; keys never seen before land in warm (small values) or cold. An
// entry too large for its target tier is rejected with a log line, never an
// error. When the target tier is full, exactly one entry is evicted by that
// tier's strategy before inserting.
func (c *IntelligentCache) Set(key string, value any, ttl ...time.Duration) {
	defer c.recoverOp("set", key)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	size := estimateSize(value, c.logger)
	target := c.selectTierLocked(key, size, now)
	state := c.tiers[target]

	if size > state.config.MaxEntrySize {
		c.logger.Warnw("Rejecting entry above tier size limit",
			"key", key, "tier", target, "size", size, "limit", state.config.MaxEntrySize)
		return
	}

	effectiveTTL := state.config.TTL
	if len(ttl) > 0 && ttl[0] > 0 {
		effectiveTTL = ttl[0]
	}

	c.removeLocked(key)
	if len(state.keys) >= state.config.Capacity {
		c.evictLocked(target, 1, now)
	}

	entry := &Entry{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    1,
		Size:           size,
		TTL:            effectiveTTL,
		Tier:           target,
	}
	c.entries[key] = entry
	state.keys[key] = struct{}{}
	c.touchPatternLocked(entry, now)
}

// Has reports liveness without touching access metadata or hit/miss
// accounting.
func (c *IntelligentCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return ok && !entry.Expired(c.clk.Now())
}

// Delete removes the entry but keeps its access pattern: history survives
// residency.
func (c *IntelligentCache) Delete(key string) bool {
	defer c.recoverOp("delete", key)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(key)
}

// Clear drops every entry. Counters and access patterns are kept; operation
// statistics reset only by explicit action elsewhere.
func (c *IntelligentCache) Clear() {
	defer c.recoverOp("clear", "")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	for _, state := range c.tiers {
		state.keys = make(map[string]struct{})
	}
}

// Size returns the number of live entries across all tiers. Entries whose
// TTL has elapsed are logically absent and not counted, even before the
// expiry sweep removes them.
func (c *IntelligentCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liveCountLocked(c.clk.Now())
}

func (c *IntelligentCache) liveCountLocked(now time.Time) int {
	count := 0
	for _, entry := range c.entries {
		if !entry.Expired(now) {
			count++
		}
	}
	return count
}

// Metrics returns a snapshot of the store's counters.
func (c *IntelligentCache) Metrics() tierkeep.CacheMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics := tierkeep.CacheMetrics{
		Size:      c.liveCountLocked(c.clk.Now()),
		Evictions: c.evictions,
	}
	for _, state := range c.tiers {
		metrics.Capacity += state.config.Capacity
	}
	if total := c.hits + c.misses; total > 0 {
		metrics.HitRatio = float64(c.hits) / float64(total) * 100
	}
	if c.lookups > 0 {
		metrics.AverageLookupTime = c.lookupTotal / time.Duration(c.lookups)
	}
	return metrics
}

// TierSizes returns the live entry count per tier.
func (c *IntelligentCache) TierSizes() map[Tier]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sizes := make(map[Tier]int, len(c.tiers))
	for tier, state := range c.tiers {
		sizes[tier] = len(state.keys)
	}
	return sizes
}

// EntryTier returns the tier currently holding key.
func (c *IntelligentCache) EntryTier(key string) (Tier, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	return entry.Tier, true
}

// InvalidatePattern removes every live key matching the pattern and returns
// how many were dropped.
func (c *IntelligentCache) InvalidatePattern(pattern *regexp.Regexp) int {
	defer c.recoverOp("invalidate_pattern", pattern.String())
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []string
	for key := range c.entries {
		if pattern.MatchString(key) {
			matched = append(matched, key)
		}
	}
	for _, key := range matched {
		c.removeLocked(key)
	}
	return len(matched)
}

// RemoveExpired sweeps out entries whose TTL has elapsed and returns how
// many were removed.
func (c *IntelligentCache) RemoveExpired() int {
	defer c.recoverOp("remove_expired", "")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expireLocked(c.clk.Now())
}

// Optimize runs a synchronous maintenance pass: expiry cleanup followed by a
// rebalance that recomputes every entry's tier from its current access score
// and reinserts score-descending, so the highest-scoring entries claim the
// scarce hot and warm slots first.
func (c *IntelligentCache) Optimize() {
	defer c.recoverOp("optimize", "")
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	expired := c.expireLocked(now)
	moved := c.rebalanceLocked(now)
	if expired > 0 || moved > 0 {
		c.logger.Debugw("Optimize pass completed", "expired", expired, "moved", moved)
	}
}

// StartMaintenance starts the background sweep loop. Safe to call once; the
// scheduler ignores repeated starts.
func (c *IntelligentCache) StartMaintenance() {
	c.maintenance.Start()
}

// StopMaintenance stops the background loop and releases its timer.
func (c *IntelligentCache) StopMaintenance() {
	c.maintenance.Stop()
}

// Internal helpers. All *Locked methods assume the write lock is held.

func (c *IntelligentCache) recoverOp(op, key string) {
	if r := recover(); r != nil {
		c.logger.Errorw("Cache operation degraded to no-op", "op", op, "key", key, "panic", r)
	}
}

// estimateSize approximates a value's footprint in bytes. Strings and byte
// slices are measured directly; everything else is serialized, falling back
// to a fixed default when the value cannot be serialized.
func estimateSize(value any, logger *zap.SugaredLogger) int64 {
	switch v := value.(type) {
	case nil:
		return defaultEntrySize
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	}
	data, err := json.Marshal(value)
	if err != nil {
		logger.Debugw("Size estimation failed, using default", "error", err)
		return defaultEntrySize
	}
	return int64(len(data))
}

func (c *IntelligentCache) selectTierLocked(key string, size int64, now time.Time) Tier {
	score := c.patternScoreLocked(key, now)
	switch {
	case score > hotScoreThreshold:
		return TierHot
	case score > warmScoreThreshold:
		return TierWarm
	case size < smallValueBytes:
		return TierWarm
	default:
		return TierCold
	}
}

func (c *IntelligentCache) patternScoreLocked(key string, now time.Time) float64 {
	pattern, ok := c.patterns[key]
	if !ok {
		return 0
	}
	return accessScore(pattern, now)
}

// accessScore blends frequency, recency, and size. The constants carry over
// from the original heuristics and are deliberately not tunable.
func accessScore(pattern *AccessPattern, now time.Time) float64 {
	recencySeconds := now.Sub(pattern.LastAccessedAt).Seconds()
	sizeTerm := 0.0
	if l := math.Log(float64(pattern.Size) + 1); l > 0 {
		sizeTerm = 1 / l
	}
	return pattern.Frequency*10 + math.Max(0, 100-recencySeconds) + sizeTerm
}

func (c *IntelligentCache) touchPatternLocked(entry *Entry, now time.Time) *AccessPattern {
	pattern, ok := c.patterns[entry.Key]
	if !ok {
		pattern = &AccessPattern{Key: entry.Key, Frequency: float64(entry.AccessCount)}
		c.patterns[entry.Key] = pattern
	} else {
		pattern.Frequency = frequencyBlendOld*pattern.Frequency + frequencyBlendNew*float64(entry.AccessCount)
	}
	pattern.LastAccessedAt = now
	pattern.Size = entry.Size
	pattern.Score = accessScore(pattern, now)
	return pattern
}

// maybePromoteLocked moves an entry one tier up when its score clears the
// threshold and the destination has spare room. Promotion never forces an
// eviction.
func (c *IntelligentCache) maybePromoteLocked(entry *Entry, score float64) {
	var target Tier
	switch {
	case entry.Tier == TierWarm && score > promoteWarmToHot:
		target = TierHot
	case entry.Tier == TierCold && score > promoteColdToWarm:
		target = TierWarm
	default:
		return
	}

	dest := c.tiers[target]
	if len(dest.keys) >= dest.config.Capacity || entry.Size > dest.config.MaxEntrySize {
		return
	}
	delete(c.tiers[entry.Tier].keys, entry.Key)
	dest.keys[entry.Key] = struct{}{}
	entry.Tier = target
}

func (c *IntelligentCache) evictLocked(tier Tier, n int, now time.Time) {
	state := c.tiers[tier]
	candidates := make([]*Entry, 0, len(state.keys))
	for key := range state.keys {
		candidates = append(candidates, c.entries[key])
	}

	pressure := PressureForUtilization(float64(len(state.keys)) / float64(state.config.Capacity))
	victims := state.config.Strategy.SelectVictims(candidates, n, pressure, now)
	for _, victim := range victims {
		c.removeLocked(victim.Key)
		c.evictions++
		c.logger.Debugw("Evicted entry",
			"key", victim.Key, "tier", tier, "strategy", state.config.Strategy.Name(), "pressure", pressure.Level)
	}
}

func (c *IntelligentCache) removeLocked(key string) bool {
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	delete(c.tiers[entry.Tier].keys, key)
	return true
}

func (c *IntelligentCache) expireLocked(now time.Time) int {
	var expired []string
	for key, entry := range c.entries {
		if entry.Expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.removeLocked(key)
	}
	return len(expired)
}

func tierForScore(score float64) Tier {
	switch {
	case score > hotScoreThreshold:
		return TierHot
	case score > warmScoreThreshold:
		return TierWarm
	default:
		return TierCold
	}
}

func tiersBelow(tier Tier) []Tier {
	switch tier {
	case TierHot:
		return []Tier{TierHot, TierWarm, TierCold}
	case TierWarm:
		return []Tier{TierWarm, TierCold}
	default:
		return []Tier{TierCold}
	}
}

// rebalanceLocked reassigns every live entry to the tier its current score
// asks for, highest scores placed first. An entry that cannot fit its
// computed tier falls through toward cold, then takes any tier with spare
// room. Rebalance is pure placement: live entries are never dropped, so a
// store whose entry count fits its total capacity keeps every entry.
func (c *IntelligentCache) rebalanceLocked(now time.Time) int {
	type scoredEntry struct {
		entry *Entry
		score float64
	}
	ranked := make([]scoredEntry, 0, len(c.entries))
	for key, entry := range c.entries {
		ranked = append(ranked, scoredEntry{entry: entry, score: c.patternScoreLocked(key, now)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	for _, state := range c.tiers {
		state.keys = make(map[string]struct{})
	}

	moved := 0
	for _, candidate := range ranked {
		tier := c.rebalanceTierLocked(candidate.entry, tierForScore(candidate.score))
		c.tiers[tier].keys[candidate.entry.Key] = struct{}{}
		if candidate.entry.Tier != tier {
			moved++
		}
		candidate.entry.Tier = tier
	}
	return moved
}

// rebalanceTierLocked picks the tier to hold entry during a rebalance:
// first the desired tier and those below it, then any tier with spare room
// that allows the entry's size. When even that fails (only possible through
// per-tier size limits), the entry stays in the tier that already held it.
func (c *IntelligentCache) rebalanceTierLocked(entry *Entry, desired Tier) Tier {
	for _, tier := range tiersBelow(desired) {
		state := c.tiers[tier]
		if len(state.keys) < state.config.Capacity && entry.Size <= state.config.MaxEntrySize {
			return tier
		}
	}
	for _, tier := range tierScanOrder {
		state := c.tiers[tier]
		if len(state.keys) < state.config.Capacity && entry.Size <= state.config.MaxEntrySize {
			return tier
		}
	}
	return entry.Tier
}
