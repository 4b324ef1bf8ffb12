package cache

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tierkeep/tierkeep"
)

// OperationKind labels an explicitly recorded cache operation.
type OperationKind string

const (
	OpHit    OperationKind = "hit"
	OpMiss   OperationKind = "miss"
	OpSet    OperationKind = "set"
	OpDelete OperationKind = "delete"
	OpClear  OperationKind = "clear"
)

// OperationStats aggregates the operations collaborators reported for one
// named cache. The table is owned by the manager and resets only by explicit
// action, never by a cache's own Clear.
type OperationStats struct {
	Operations int64         `json:"operations"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	Sets       int64         `json:"sets"`
	Deletes    int64         `json:"deletes"`
	Clears     int64         `json:"clears"`
	TotalTime  time.Duration `json:"total_time"`
}

// HitRatio returns the recorded hit percentage in [0, 100].
func (s OperationStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// CacheInstance is one named cache owned by the manager.
type CacheInstance struct {
	Name     string
	Cache    tierkeep.Cache
	Type     tierkeep.CacheType
	Priority int
}

// ManagerConfig configures the orchestrator and its default cache set.
type ManagerConfig struct {
	Enabled           bool
	TokenCacheSize    int
	ResultCacheSize   int
	TemplateCacheSize int
	DefaultTTL        time.Duration

	// TargetHitRatio is the hit percentage the deployment aims for; the
	// efficiency metric reports progress against it.
	TargetHitRatio float64

	EnableWarming bool

	// EvictionPolicy applies to single-tier caches. The multi-tier store
	// keeps its own per-tier defaults (hot LRU, warm adaptive, cold
	// TTL-first).
	EvictionPolicy tierkeep.EvictionPolicy

	EnableMultiTier     bool
	MaintenanceInterval time.Duration
	Warmup              *WarmupConfig
}

// DefaultManagerConfig returns the stock configuration.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		Enabled:             true,
		TokenCacheSize:      10000,
		ResultCacheSize:     5000,
		TemplateCacheSize:   1000,
		DefaultTTL:          time.Hour,
		TargetHitRatio:      80,
		EnableWarming:       true,
		EvictionPolicy:      tierkeep.EvictionLRU,
		EnableMultiTier:     true,
		MaintenanceInterval: time.Minute,
	}
}

// Validate rejects invalid configuration before any cache is constructed.
func (c *ManagerConfig) Validate() error {
	if _, err := tierkeep.ParseEvictionPolicy(string(c.EvictionPolicy)); err != nil {
		return err
	}
	if c.TokenCacheSize <= 0 || c.ResultCacheSize <= 0 || c.TemplateCacheSize <= 0 {
		return fmt.Errorf("cache sizes must be positive (token=%d result=%d template=%d)",
			c.TokenCacheSize, c.ResultCacheSize, c.TemplateCacheSize)
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default TTL must be positive, got %v", c.DefaultTTL)
	}
	if c.TargetHitRatio <= 0 || c.TargetHitRatio > 100 {
		return fmt.Errorf("target hit ratio must be in (0, 100], got %v", c.TargetHitRatio)
	}
	return nil
}

// CacheReport is the per-cache slice of the manager metrics summary.
type CacheReport struct {
	Type     tierkeep.CacheType    `json:"type"`
	Priority int                   `json:"priority"`
	Metrics  tierkeep.CacheMetrics `json:"metrics"`
	Stats    OperationStats        `json:"stats"`
}

// ManagerMetrics summarizes all registered caches.
type ManagerMetrics struct {
	TotalHits     int64                  `json:"total_hits"`
	TotalMisses   int64                  `json:"total_misses"`
	HitRatio      float64                `json:"hit_ratio"`
	TotalSize     int                    `json:"total_size"`
	TotalCapacity int                    `json:"total_capacity"`
	Efficiency    float64                `json:"efficiency"`
	Caches        map[string]CacheReport `json:"caches"`
}

// CacheManager owns a named collection of caches, aggregates their
// statistics, and drives warmup and optimization across them in priority
// order.
type CacheManager struct {
	config *ManagerConfig
	clk    clock.Clock
	logger *zap.SugaredLogger
	tracer trace.Tracer
	warmup *WarmupService

	mu        sync.RWMutex
	instances map[string]*CacheInstance

	statsMu sync.Mutex
	stats   map[string]*OperationStats
}

// NewCacheManager validates the configuration, then builds the default
// token, result, and template caches.
func NewCacheManager(config *ManagerConfig, clk clock.Clock, logger *zap.SugaredLogger) (*CacheManager, error) {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache configuration: %w", err)
	}

	manager := &CacheManager{
		config:    config,
		clk:       clk,
		logger:    logger,
		tracer:    otel.Tracer("tierkeep/cache"),
		warmup:    NewWarmupService(config.Warmup, clk, logger),
		instances: make(map[string]*CacheInstance),
		stats:     make(map[string]*OperationStats),
	}

	defaults := []struct {
		name      string
		cacheType tierkeep.CacheType
		size      int
		priority  int
	}{
		{"token", tierkeep.CacheTypeToken, config.TokenCacheSize, 1},
		{"result", tierkeep.CacheTypeResult, config.ResultCacheSize, 2},
		{"template", tierkeep.CacheTypeTemplate, config.TemplateCacheSize, 3},
	}
	for _, def := range defaults {
		backing, err := manager.buildCache(def.size)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s cache: %w", def.name, err)
		}
		manager.RegisterCache(def.name, backing, def.cacheType, def.priority)
	}
	return manager, nil
}

func (m *CacheManager) buildCache(capacity int) (tierkeep.Cache, error) {
	if m.config.EnableMultiTier {
		return NewIntelligentCache(IntelligentCacheConfig{
			Capacity:            capacity,
			DefaultTTL:          m.config.DefaultTTL,
			MaintenanceInterval: m.config.MaintenanceInterval,
		}, m.clk, m.logger)
	}
	return NewSimpleCache(SimpleCacheConfig{
		Capacity:   capacity,
		DefaultTTL: m.config.DefaultTTL,
		Policy:     m.config.EvictionPolicy,
	}, m.clk, m.logger)
}

// RegisterCache adds or replaces a named cache. Registration is idempotent:
// a second registration under the same name replaces the cache but keeps its
// recorded statistics.
func (m *CacheManager) RegisterCache(name string, cache tierkeep.Cache, cacheType tierkeep.CacheType, priority int) {
	m.mu.Lock()
	m.instances[name] = &CacheInstance{Name: name, Cache: cache, Type: cacheType, Priority: priority}
	m.mu.Unlock()

	m.statsMu.Lock()
	if _, ok := m.stats[name]; !ok {
		m.stats[name] = &OperationStats{}
	}
	m.statsMu.Unlock()

	m.logger.Infow("Registered cache", "name", name, "type", cacheType, "priority", priority)
}

// GetCache returns the cache registered under name.
func (m *CacheManager) GetCache(name string) (tierkeep.Cache, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instance, ok := m.instances[name]
	if !ok {
		return nil, false
	}
	return instance.Cache, true
}

// CacheNames returns the registered names in sorted order.
func (m *CacheManager) CacheNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WarmupService exposes the pattern tracker so collaborators can record
// accesses for predictive warming.
func (m *CacheManager) WarmupService() *WarmupService {
	return m.warmup
}

// RecordAccess forwards an access observation to the warmup service.
func (m *CacheManager) RecordAccess(cacheName, key string, size int64) {
	m.warmup.RecordAccess(cacheName, key, size)
}

// RecordOperation adds one explicitly reported operation to the named
// cache's statistics. Unknown names are ignored.
func (m *CacheManager) RecordOperation(name string, kind OperationKind, duration time.Duration) {
	m.mu.RLock()
	_, known := m.instances[name]
	m.mu.RUnlock()
	if !known {
		return
	}

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	stats := m.stats[name]
	stats.Operations++
	stats.TotalTime += duration
	switch kind {
	case OpHit:
		stats.Hits++
	case OpMiss:
		stats.Misses++
	case OpSet:
		stats.Sets++
	case OpDelete:
		stats.Deletes++
	case OpClear:
		stats.Clears++
	}
}

// Stats returns a copy of the recorded statistics for name.
func (m *CacheManager) Stats(name string) (OperationStats, bool) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	stats, ok := m.stats[name]
	if !ok {
		return OperationStats{}, false
	}
	return *stats, true
}

// ResetStats zeroes every cache's recorded statistics. This is the only way
// the table resets.
func (m *CacheManager) ResetStats() {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	for name := range m.stats {
		m.stats[name] = &OperationStats{}
	}
}

// Warmup warms every registered cache in ascending priority order. Caches
// are warmed one at a time on purpose: warming them in parallel would
// overwhelm the resources the live workload is using. A failing cache is
// logged and skipped, never aborts the rest.
func (m *CacheManager) Warmup(ctx context.Context) []*WarmupResult {
	_, span := m.tracer.Start(ctx, "cache.manager.warmup")
	defer span.End()

	if !m.config.Enabled || !m.config.EnableWarming {
		m.logger.Debugw("Warmup disabled, skipping")
		return nil
	}

	instances := m.instancesByPriority()
	results := make([]*WarmupResult, 0, len(instances))
	for _, instance := range instances {
		results = append(results, m.warmupOne(ctx, instance))
	}
	span.SetAttributes(attribute.Int("cache.count", len(results)))
	return results
}

func (m *CacheManager) warmupOne(ctx context.Context, instance *CacheInstance) (result *WarmupResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorw("Warmup failed for cache", "cache", instance.Name, "panic", r)
			result = &WarmupResult{CacheName: instance.Name, Skipped: true, SkipReason: fmt.Sprintf("warmup panic: %v", r)}
		}
	}()
	return m.warmup.WarmupCache(ctx, instance.Name, instance.Cache)
}

// ClearAll clears every cache, recording one clear per cache. Individual
// failures are logged and do not stop the sweep.
func (m *CacheManager) ClearAll() {
	for _, instance := range m.instancesByPriority() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Errorw("Failed to clear cache", "cache", instance.Name, "panic", r)
				}
			}()
			instance.Cache.Clear()
		}()
		m.RecordOperation(instance.Name, OpClear, 0)
	}
}

// Metrics aggregates hit/miss/size/capacity across all caches. Hits and
// misses come from the explicitly recorded statistics, not from cache
// internals. Efficiency reports the recorded hit ratio against the target,
// capped at 100.
func (m *CacheManager) Metrics() ManagerMetrics {
	summary := ManagerMetrics{Caches: make(map[string]CacheReport)}
	for _, instance := range m.instancesByPriority() {
		stats, _ := m.Stats(instance.Name)
		metrics := m.cacheMetrics(instance)

		summary.TotalHits += stats.Hits
		summary.TotalMisses += stats.Misses
		summary.TotalSize += metrics.Size
		summary.TotalCapacity += metrics.Capacity
		summary.Caches[instance.Name] = CacheReport{
			Type:     instance.Type,
			Priority: instance.Priority,
			Metrics:  metrics,
			Stats:    stats,
		}
	}
	if total := summary.TotalHits + summary.TotalMisses; total > 0 {
		summary.HitRatio = float64(summary.TotalHits) / float64(total) * 100
	}
	summary.Efficiency = math.Min(100, summary.HitRatio/m.config.TargetHitRatio*100)
	return summary
}

func (m *CacheManager) cacheMetrics(instance *CacheInstance) (metrics tierkeep.CacheMetrics) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorw("Failed to read cache metrics", "cache", instance.Name, "panic", r)
		}
	}()
	return instance.Cache.Metrics()
}

// Optimize runs every cache's own maintenance pass, joined before
// returning, then inspects usage ratios.
func (m *CacheManager) Optimize(ctx context.Context) {
	_, span := m.tracer.Start(ctx, "cache.manager.optimize")
	defer span.End()

	for _, instance := range m.instancesByPriority() {
		optimizer, ok := instance.Cache.(tierkeep.Optimizer)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Errorw("Optimize failed for cache", "cache", instance.Name, "panic", r)
				}
			}()
			optimizer.Optimize()
		}()
	}
	m.inspectUsageRatios()
}

// inspectUsageRatios reviews how full each cache runs relative to its
// capacity. It only reports: dynamic tier resizing is a deliberate extension
// point and stays an inspection pass until resizing lands.
func (m *CacheManager) inspectUsageRatios() {
	for name, report := range m.Metrics().Caches {
		if report.Metrics.Capacity == 0 {
			continue
		}
		ratio := float64(report.Metrics.Size) / float64(report.Metrics.Capacity)
		m.logger.Debugw("Cache usage ratio", "cache", name, "ratio", ratio)
	}
}

// InvalidatePattern drops matching keys from every cache that supports
// pattern invalidation and returns the total removed. Caches without the
// capability are simply skipped.
func (m *CacheManager) InvalidatePattern(pattern *regexp.Regexp) int {
	total := 0
	for _, instance := range m.instancesByPriority() {
		invalidator, ok := instance.Cache.(tierkeep.PatternInvalidator)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Errorw("Pattern invalidation failed", "cache", instance.Name, "panic", r)
				}
			}()
			total += invalidator.InvalidatePattern(pattern)
		}()
	}
	return total
}

// Start launches the maintenance scheduler of every cache that owns one.
func (m *CacheManager) Start() {
	if !m.config.Enabled {
		return
	}
	for _, instance := range m.instancesByPriority() {
		if maintainer, ok := instance.Cache.(tierkeep.Maintainer); ok {
			maintainer.StartMaintenance()
		}
	}
}

// Stop halts every maintenance scheduler so the owning process can tear
// down without leaking timers.
func (m *CacheManager) Stop() {
	for _, instance := range m.instancesByPriority() {
		if maintainer, ok := instance.Cache.(tierkeep.Maintainer); ok {
			maintainer.StopMaintenance()
		}
	}
	m.logger.Infow("Cache manager stopped")
}

func (m *CacheManager) instancesByPriority() []*CacheInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instances := make([]*CacheInstance, 0, len(m.instances))
	for _, instance := range m.instances {
		instances = append(instances, instance)
	}
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Priority != instances[j].Priority {
			return instances[i].Priority < instances[j].Priority
		}
		return instances[i].Name < instances[j].Name
	})
	return instances
}
