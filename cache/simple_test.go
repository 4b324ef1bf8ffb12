package cache

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tierkeep/tierkeep"
)

func newTestSimpleCache(t *testing.T, config SimpleCacheConfig) (*SimpleCache, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	store, err := NewSimpleCache(config, mock, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return store, mock
}

func TestSimpleCacheSetGetRoundtrip(t *testing.T) {
	store, _ := newTestSimpleCache(t, SimpleCacheConfig{Capacity: 10})

	store.Set("a", 42)
	value, found := store.Get("a")
	require.True(t, found)
	assert.Equal(t, 42, value)

	_, found = store.Get("absent")
	assert.False(t, found)
}

func TestSimpleCacheRejectsUnknownPolicy(t *testing.T) {
	mock := clock.NewMock()
	_, err := NewSimpleCache(SimpleCacheConfig{Policy: "random"}, mock, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}

func TestSimpleCacheLRUEviction(t *testing.T) {
	store, mock := newTestSimpleCache(t, SimpleCacheConfig{Capacity: 3, Policy: tierkeep.EvictionLRU})

	store.Set("a", 1)
	mock.Add(time.Second)
	store.Set("b", 2)
	mock.Add(time.Second)
	store.Set("c", 3)
	mock.Add(time.Second)

	// Reading a makes b the least recently used entry.
	_, found := store.Get("a")
	require.True(t, found)
	mock.Add(time.Second)

	store.Set("d", 4)

	assert.False(t, store.Has("b"))
	for _, key := range []string{"a", "c", "d"} {
		assert.True(t, store.Has(key), "key %s", key)
	}
	assert.Equal(t, 3, store.Size())
	assert.Equal(t, int64(1), store.Metrics().Evictions)
}

func TestSimpleCacheUpdateDoesNotEvict(t *testing.T) {
	store, _ := newTestSimpleCache(t, SimpleCacheConfig{Capacity: 2})

	store.Set("a", 1)
	store.Set("b", 2)
	store.Set("a", 10)

	assert.Equal(t, 2, store.Size())
	assert.Equal(t, int64(0), store.Metrics().Evictions)

	value, found := store.Get("a")
	require.True(t, found)
	assert.Equal(t, 10, value)
}

func TestSimpleCacheTTLExpiry(t *testing.T) {
	store, mock := newTestSimpleCache(t, SimpleCacheConfig{Capacity: 10, DefaultTTL: time.Hour})

	store.Set("default-ttl", "a")
	store.Set("custom-ttl", "b", time.Minute)

	mock.Add(2 * time.Minute)
	assert.True(t, store.Has("default-ttl"))
	assert.False(t, store.Has("custom-ttl"))

	assert.Equal(t, 1, store.RemoveExpired())
	assert.Equal(t, 1, store.Size())
}

func TestSimpleCacheSizeExcludesExpired(t *testing.T) {
	store, mock := newTestSimpleCache(t, SimpleCacheConfig{Capacity: 10})

	store.Set("ephemeral", "v", 100*time.Millisecond)
	require.Equal(t, 1, store.Size())

	mock.Add(200 * time.Millisecond)
	assert.Equal(t, 0, store.Size())
	assert.Equal(t, 0, store.Metrics().Size)
}

func TestSimpleCacheAdaptiveEvictsLargeEntries(t *testing.T) {
	store, _ := newTestSimpleCache(t, SimpleCacheConfig{Capacity: 2, Policy: tierkeep.EvictionAdaptive})

	// Equal recency, frequency, and TTL: only the size factor differs, and
	// at full capacity the critical pressure profile makes it dominate.
	store.Set("small", strings.Repeat("x", 10))
	store.Set("large", strings.Repeat("x", 100000))
	store.Set("third", "v")

	assert.True(t, store.Has("small"))
	assert.False(t, store.Has("large"))
	assert.True(t, store.Has("third"))
}

func TestSimpleCacheOverwritePreservesFrequency(t *testing.T) {
	store, _ := newTestSimpleCache(t, SimpleCacheConfig{Capacity: 2, Policy: tierkeep.EvictionLFU})

	store.Set("a", 1)
	store.Get("a")
	store.Get("a")
	store.Set("a", 2)
	store.Set("b", 1)

	// a's overwrite kept its access history, so b is the LFU victim.
	store.Set("c", 1)
	assert.True(t, store.Has("a"))
	assert.False(t, store.Has("b"))
	assert.True(t, store.Has("c"))
}

func TestSimpleCacheDeleteAndClear(t *testing.T) {
	store, _ := newTestSimpleCache(t, SimpleCacheConfig{Capacity: 10})

	store.Set("a", 1)
	assert.True(t, store.Delete("a"))
	assert.False(t, store.Delete("a"))

	store.Set("b", 2)
	store.Set("c", 3)
	store.Clear()
	assert.Equal(t, 0, store.Size())
}

func TestSimpleCacheInvalidatePattern(t *testing.T) {
	store, _ := newTestSimpleCache(t, SimpleCacheConfig{Capacity: 10})

	store.Set("token:a", 1)
	store.Set("token:b", 2)
	store.Set("other", 3)

	assert.Equal(t, 2, store.InvalidatePattern(regexp.MustCompile(`^token:`)))
	assert.Equal(t, 1, store.Size())
}

func TestSimpleCacheMetrics(t *testing.T) {
	store, _ := newTestSimpleCache(t, SimpleCacheConfig{Capacity: 10})

	store.Set("a", 1)
	store.Get("a")
	store.Get("absent")
	store.Get("absent")
	store.Get("absent")

	metrics := store.Metrics()
	assert.Equal(t, 1, metrics.Size)
	assert.Equal(t, 10, metrics.Capacity)
	assert.InDelta(t, 25.0, metrics.HitRatio, 0.01)
}
