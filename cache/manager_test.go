package cache

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tierkeep/tierkeep"
)

// stubCache is a minimal in-memory cache for tests. Keys listed in failKeys
// panic on Set, which exercises the fault-tolerance paths.
type stubCache struct {
	mu       sync.Mutex
	entries  map[string]any
	failKeys map[string]bool
	cleared  int
}

func newStubCache() *stubCache {
	return &stubCache{
		entries:  make(map[string]any),
		failKeys: make(map[string]bool),
	}
}

func (c *stubCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	return value, ok
}

func (c *stubCache) Set(key string, value any, _ ...time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failKeys[key] {
		panic("stub cache rejects key " + key)
	}
	c.entries[key] = value
}

func (c *stubCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func (c *stubCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

func (c *stubCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]any)
	c.cleared++
}

func (c *stubCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *stubCache) Metrics() tierkeep.CacheMetrics {
	return tierkeep.CacheMetrics{Size: c.Size()}
}

// faultyCache panics on every operation.
type faultyCache struct{}

func (faultyCache) Get(string) (any, bool)            { panic("faulty get") }
func (faultyCache) Set(string, any, ...time.Duration) { panic("faulty set") }
func (faultyCache) Has(string) bool                   { panic("faulty has") }
func (faultyCache) Delete(string) bool                { panic("faulty delete") }
func (faultyCache) Clear()                            { panic("faulty clear") }
func (faultyCache) Size() int                         { panic("faulty size") }
func (faultyCache) Metrics() tierkeep.CacheMetrics    { panic("faulty metrics") }

func newTestManager(t *testing.T, config *ManagerConfig) (*CacheManager, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	manager, err := NewCacheManager(config, mock, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return manager, mock
}

func TestNewCacheManagerBuildsDefaultCaches(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	assert.Equal(t, []string{"result", "template", "token"}, manager.CacheNames())
	for _, name := range []string{"token", "result", "template"} {
		backing, ok := manager.GetCache(name)
		require.True(t, ok, "cache %s", name)
		_, isIntelligent := backing.(*IntelligentCache)
		assert.True(t, isIntelligent, "cache %s should be multi-tier by default", name)
	}
}

func TestNewCacheManagerSingleTierMode(t *testing.T) {
	config := DefaultManagerConfig()
	config.EnableMultiTier = false
	config.EvictionPolicy = tierkeep.EvictionLFU
	manager, _ := newTestManager(t, config)

	backing, ok := manager.GetCache("token")
	require.True(t, ok)
	_, isSimple := backing.(*SimpleCache)
	assert.True(t, isSimple)
}

func TestNewCacheManagerRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ManagerConfig)
	}{
		{"unknown policy", func(c *ManagerConfig) { c.EvictionPolicy = "fifo" }},
		{"zero token size", func(c *ManagerConfig) { c.TokenCacheSize = 0 }},
		{"negative ttl", func(c *ManagerConfig) { c.DefaultTTL = -time.Second }},
		{"ratio above 100", func(c *ManagerConfig) { c.TargetHitRatio = 150 }},
		{"zero ratio", func(c *ManagerConfig) { c.TargetHitRatio = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultManagerConfig()
			tc.mutate(config)
			_, err := NewCacheManager(config, clock.NewMock(), zaptest.NewLogger(t).Sugar())
			assert.Error(t, err)
		})
	}
}

func TestRegisterCacheKeepsStatsOnReplace(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	manager.RecordOperation("token", OpHit, time.Millisecond)
	manager.RegisterCache("token", newStubCache(), tierkeep.CacheTypeToken, 1)

	stats, ok := manager.Stats("token")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestRecordOperationIgnoresUnknownCache(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	manager.RecordOperation("no-such-cache", OpHit, time.Millisecond)

	_, ok := manager.Stats("no-such-cache")
	assert.False(t, ok)
}

func TestRecordOperationAccumulates(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	manager.RecordOperation("token", OpHit, 2*time.Millisecond)
	manager.RecordOperation("token", OpHit, 2*time.Millisecond)
	manager.RecordOperation("token", OpMiss, time.Millisecond)
	manager.RecordOperation("token", OpSet, time.Millisecond)
	manager.RecordOperation("token", OpDelete, time.Millisecond)

	stats, ok := manager.Stats("token")
	require.True(t, ok)
	assert.Equal(t, int64(5), stats.Operations)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(1), stats.Deletes)
	assert.Equal(t, 7*time.Millisecond, stats.TotalTime)
	assert.InDelta(t, 66.67, stats.HitRatio(), 0.01)
}

func TestResetStats(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	manager.RecordOperation("token", OpHit, time.Millisecond)
	manager.ResetStats()

	stats, ok := manager.Stats("token")
	require.True(t, ok)
	assert.Equal(t, OperationStats{}, stats)
}

func TestManagerMetricsAggregation(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	token, ok := manager.GetCache("token")
	require.True(t, ok)
	token.Set("a", 1)

	manager.RecordOperation("token", OpHit, time.Millisecond)
	manager.RecordOperation("token", OpHit, time.Millisecond)
	manager.RecordOperation("result", OpMiss, time.Millisecond)

	summary := manager.Metrics()
	assert.Equal(t, int64(2), summary.TotalHits)
	assert.Equal(t, int64(1), summary.TotalMisses)
	assert.InDelta(t, 66.67, summary.HitRatio, 0.01)
	assert.Equal(t, 1, summary.TotalSize)
	assert.Equal(t, 16000, summary.TotalCapacity)
	assert.Len(t, summary.Caches, 3)
}

func TestManagerEfficiencyCappedAtHundred(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	// 100% hit ratio against an 80% target would read 125 uncapped.
	for i := 0; i < 10; i++ {
		manager.RecordOperation("token", OpHit, time.Millisecond)
	}

	summary := manager.Metrics()
	assert.InDelta(t, 100.0, summary.HitRatio, 0.01)
	assert.Equal(t, 100.0, summary.Efficiency)
}

func TestManagerMetricsToleratesFaultyCache(t *testing.T) {
	manager, _ := newTestManager(t, nil)
	manager.RegisterCache("broken", faultyCache{}, tierkeep.CacheTypeGeneric, 9)

	summary := manager.Metrics()
	assert.Len(t, summary.Caches, 4)
	assert.Equal(t, tierkeep.CacheMetrics{}, summary.Caches["broken"].Metrics)
}

func TestClearAllToleratesFaultyCache(t *testing.T) {
	manager, _ := newTestManager(t, nil)
	stub := newStubCache()
	stub.Set("a", 1)
	manager.RegisterCache("stub", stub, tierkeep.CacheTypeGeneric, 4)
	manager.RegisterCache("broken", faultyCache{}, tierkeep.CacheTypeGeneric, 5)

	assert.NotPanics(t, manager.ClearAll)
	assert.Equal(t, 0, stub.Size())
	assert.Equal(t, 1, stub.cleared)

	stats, ok := manager.Stats("stub")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Clears)
}

func TestWarmupRunsInPriorityOrder(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	results := manager.Warmup(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, "token", results[0].CacheName)
	assert.Equal(t, "result", results[1].CacheName)
	assert.Equal(t, "template", results[2].CacheName)
}

func TestWarmupDisabled(t *testing.T) {
	config := DefaultManagerConfig()
	config.EnableWarming = false
	manager, _ := newTestManager(t, config)

	assert.Nil(t, manager.Warmup(context.Background()))
}

func TestWarmupPopulatesFromRecordedAccesses(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	for i := 0; i < 5; i++ {
		manager.RecordAccess("token", "popular", 100)
	}

	results := manager.Warmup(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].EntriesWarmed)

	token, ok := manager.GetCache("token")
	require.True(t, ok)
	assert.True(t, token.Has("popular"))
}

func TestOptimizeToleratesFaultyCache(t *testing.T) {
	manager, _ := newTestManager(t, nil)
	manager.RegisterCache("broken", faultyCache{}, tierkeep.CacheTypeGeneric, 9)

	assert.NotPanics(t, func() { manager.Optimize(context.Background()) })
}

func TestInvalidatePatternSkipsIncapableCaches(t *testing.T) {
	manager, _ := newTestManager(t, nil)
	manager.RegisterCache("stub", newStubCache(), tierkeep.CacheTypeGeneric, 4)

	token, ok := manager.GetCache("token")
	require.True(t, ok)
	token.Set("user:1", "a")
	token.Set("other", "b")

	removed := manager.InvalidatePattern(regexp.MustCompile(`^user:`))
	assert.Equal(t, 1, removed)
	assert.False(t, token.Has("user:1"))
	assert.True(t, token.Has("other"))
}

func TestManagerStartStopLifecycle(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	manager.Start()
	token, ok := manager.GetCache("token")
	require.True(t, ok)
	assert.True(t, token.(*IntelligentCache).maintenance.Running())

	manager.Stop()
	assert.False(t, token.(*IntelligentCache).maintenance.Running())
	manager.Stop()
}

func TestManagerStartDisabled(t *testing.T) {
	config := DefaultManagerConfig()
	config.Enabled = false
	manager, _ := newTestManager(t, config)

	manager.Start()
	token, ok := manager.GetCache("token")
	require.True(t, ok)
	assert.False(t, token.(*IntelligentCache).maintenance.Running())
}
