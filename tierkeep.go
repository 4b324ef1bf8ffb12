// Package tierkeep defines the narrow cache contract shared by every cache
// implementation in this repository. Collaborators (token counting, result
// formatting, template rendering) depend only on the Cache interface and
// never on a concrete store, so the orchestrator can hand out a multi-tier
// store or a plain LRU behind the same type.
package tierkeep

import (
	"fmt"
	"regexp"
	"time"
)

// CacheType categorizes what a named cache instance holds.
type CacheType string

const (
	CacheTypeToken    CacheType = "token"
	CacheTypeResult   CacheType = "result"
	CacheTypeTemplate CacheType = "template"
	CacheTypeGeneric  CacheType = "generic"
)

// EvictionPolicy selects the algorithm used when a cache (or tier) is full.
type EvictionPolicy string

const (
	EvictionLRU      EvictionPolicy = "lru"
	EvictionLFU      EvictionPolicy = "lfu"
	EvictionTTL      EvictionPolicy = "ttl"
	EvictionAdaptive EvictionPolicy = "adaptive"
)

// ParseEvictionPolicy validates a policy name from configuration. Unknown
// names are a configuration error and must be rejected before any cache is
// constructed.
func ParseEvictionPolicy(name string) (EvictionPolicy, error) {
	switch EvictionPolicy(name) {
	case EvictionLRU, EvictionLFU, EvictionTTL, EvictionAdaptive:
		return EvictionPolicy(name), nil
	}
	return "", fmt.Errorf("unknown eviction policy %q (expected one of lru, lfu, ttl, adaptive)", name)
}

// Cache is the narrow contract consumed by all collaborators.
//
// Implementations must never propagate internal faults to the caller: a
// failing Get degrades to a miss, a failing Set to a no-op.
type Cache interface {
	// Get returns the live value for key, or false when the key is absent,
	// expired, or evicted.
	Get(key string) (any, bool)

	// Set stores value under key. An optional TTL overrides the store's
	// default; zero or omitted means the default applies.
	Set(key string, value any, ttl ...time.Duration)

	// Has reports whether a live entry exists without touching access
	// metadata or hit/miss accounting.
	Has(key string) bool

	// Delete removes the entry and reports whether it was present.
	Delete(key string) bool

	// Clear removes every entry.
	Clear()

	// Size returns the number of currently live entries.
	Size() int

	// Metrics returns a snapshot of the store's performance counters.
	Metrics() CacheMetrics
}

// CacheMetrics is the metrics snapshot exposed through the narrow contract.
type CacheMetrics struct {
	// HitRatio is a percentage in [0, 100].
	HitRatio float64 `json:"hit_ratio"`

	// Size is the number of live entries.
	Size int `json:"size"`

	// Capacity is the configured entry capacity across all tiers.
	Capacity int `json:"capacity"`

	// Evictions counts entries removed by an eviction strategy.
	Evictions int64 `json:"evictions"`

	// AverageLookupTime is the mean duration of Get calls.
	AverageLookupTime time.Duration `json:"average_lookup_time"`
}

// Optimizer is an optional capability for caches that support a synchronous
// maintenance pass (expiry cleanup plus tier rebalancing).
type Optimizer interface {
	Optimize()
}

// PatternInvalidator is an optional capability for caches that can drop all
// keys matching a pattern. Its absence on a cache is not an error.
type PatternInvalidator interface {
	InvalidatePattern(pattern *regexp.Regexp) int
}

// Maintainer is an optional capability for caches owning a background
// maintenance scheduler.
type Maintainer interface {
	StartMaintenance()
	StopMaintenance()
}
