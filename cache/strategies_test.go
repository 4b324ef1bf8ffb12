package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tierkeep/tierkeep"
)

func TestNewEvictionStrategy(t *testing.T) {
	tests := []struct {
		name       string
		policy     tierkeep.EvictionPolicy
		expectName tierkeep.EvictionPolicy
		expectErr  bool
	}{
		{name: "lru", policy: tierkeep.EvictionLRU, expectName: tierkeep.EvictionLRU},
		{name: "lfu", policy: tierkeep.EvictionLFU, expectName: tierkeep.EvictionLFU},
		{name: "ttl", policy: tierkeep.EvictionTTL, expectName: tierkeep.EvictionTTL},
		{name: "adaptive", policy: tierkeep.EvictionAdaptive, expectName: tierkeep.EvictionAdaptive},
		{name: "unknown", policy: tierkeep.EvictionPolicy("fifo"), expectErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			strategy, err := NewEvictionStrategy(tc.policy)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectName, strategy.Name())
		})
	}
}

func TestPressureForUtilization(t *testing.T) {
	tests := []struct {
		utilization float64
		expected    PressureLevel
	}{
		{0.0, PressureLow},
		{0.69, PressureLow},
		{0.70, PressureModerate},
		{0.84, PressureModerate},
		{0.85, PressureHigh},
		{0.94, PressureHigh},
		{0.95, PressureCritical},
		{1.0, PressureCritical},
	}

	for _, tc := range tests {
		pressure := PressureForUtilization(tc.utilization)
		assert.Equal(t, tc.expected, pressure.Level, "utilization %v", tc.utilization)
		assert.Equal(t, tc.utilization, pressure.Utilization)
	}
}

func entryAt(key string, accessed time.Time, count int64) *Entry {
	return &Entry{
		Key:            key,
		CreatedAt:      accessed,
		LastAccessedAt: accessed,
		AccessCount:    count,
	}
}

func TestLRUStrategySelectsOldestAccess(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candidates := []*Entry{
		entryAt("recent", now.Add(-time.Minute), 1),
		entryAt("oldest", now.Add(-time.Hour), 1),
		entryAt("middle", now.Add(-30*time.Minute), 1),
	}

	strategy, err := NewEvictionStrategy(tierkeep.EvictionLRU)
	require.NoError(t, err)

	victims := strategy.SelectVictims(candidates, 2, PressureForUtilization(0.5), now)
	require.Len(t, victims, 2)
	assert.Equal(t, "oldest", victims[0].Key)
	assert.Equal(t, "middle", victims[1].Key)
}

func TestLFUStrategyBreaksTiesByAccessTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candidates := []*Entry{
		entryAt("popular", now.Add(-time.Minute), 10),
		entryAt("rare-stale", now.Add(-time.Hour), 2),
		entryAt("rare-fresh", now.Add(-time.Minute), 2),
	}

	strategy, err := NewEvictionStrategy(tierkeep.EvictionLFU)
	require.NoError(t, err)

	victims := strategy.SelectVictims(candidates, 2, PressureForUtilization(0.5), now)
	require.Len(t, victims, 2)
	assert.Equal(t, "rare-stale", victims[0].Key)
	assert.Equal(t, "rare-fresh", victims[1].Key)
}

func TestTTLFirstStrategyPrefersExpiredEntries(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expired := entryAt("expired", now.Add(-2*time.Hour), 100)
	expired.TTL = time.Hour
	liveOld := entryAt("live-old", now.Add(-50*time.Minute), 1)
	liveOld.TTL = 3 * time.Hour
	liveFresh := entryAt("live-fresh", now.Add(-time.Minute), 1)
	liveFresh.TTL = 3 * time.Hour

	strategy, err := NewEvictionStrategy(tierkeep.EvictionTTL)
	require.NoError(t, err)

	victims := strategy.SelectVictims([]*Entry{liveFresh, liveOld, expired}, 2, PressureForUtilization(0.5), now)
	require.Len(t, victims, 2)
	assert.Equal(t, "expired", victims[0].Key)
	assert.Equal(t, "live-old", victims[1].Key)
}

func TestAdaptiveStrategyEvictsLargeEntriesUnderCriticalPressure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	small := entryAt("small", now.Add(-time.Minute), 3)
	small.Size = 100
	large := entryAt("large", now.Add(-time.Minute), 3)
	large.Size = 100000

	strategy, err := NewEvictionStrategy(tierkeep.EvictionAdaptive)
	require.NoError(t, err)

	victims := strategy.SelectVictims([]*Entry{small, large}, 1, PressureForUtilization(0.96), now)
	require.Len(t, victims, 1)
	assert.Equal(t, "large", victims[0].Key)
}

func TestAdaptiveStrategyEvictsStaleEntriesUnderLowPressure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stale := entryAt("stale", now.Add(-2*time.Hour), 3)
	stale.Size = 100
	fresh := entryAt("fresh", now.Add(-time.Second), 3)
	fresh.Size = 100000

	strategy, err := NewEvictionStrategy(tierkeep.EvictionAdaptive)
	require.NoError(t, err)

	victims := strategy.SelectVictims([]*Entry{fresh, stale}, 1, PressureForUtilization(0.2), now)
	require.Len(t, victims, 1)
	assert.Equal(t, "stale", victims[0].Key)
}

func TestSelectVictimsBounds(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	candidates := []*Entry{entryAt("a", now, 1), entryAt("b", now, 1)}

	for _, policy := range []tierkeep.EvictionPolicy{
		tierkeep.EvictionLRU, tierkeep.EvictionLFU, tierkeep.EvictionTTL, tierkeep.EvictionAdaptive,
	} {
		strategy, err := NewEvictionStrategy(policy)
		require.NoError(t, err)

		assert.Empty(t, strategy.SelectVictims(candidates, 0, PressureForUtilization(0.5), now), "policy %s", policy)
		assert.Empty(t, strategy.SelectVictims(nil, 3, PressureForUtilization(0.5), now), "policy %s", policy)
		assert.Len(t, strategy.SelectVictims(candidates, 10, PressureForUtilization(0.5), now), 2, "policy %s", policy)
	}
}
