package cache

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tierkeep/tierkeep"
)

// Tier identifies a partition of the multi-tier store.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Entry is a single cached record. An entry is owned by exactly one tier at
// a time; moving it between tiers updates the tier index sets, not the entry
// table.
type Entry struct {
	Key            string
	Value          any
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	Size           int64
	TTL            time.Duration // zero means no expiry
	Tier           Tier
}

// Expired reports whether the entry's TTL has elapsed. Entries with expired
// TTLs are logically absent even before a cleanup pass removes them.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// PressureLevel describes how full a tier is when eviction runs.
type PressureLevel string

const (
	PressureLow      PressureLevel = "low"
	PressureModerate PressureLevel = "moderate"
	PressureHigh     PressureLevel = "high"
	PressureCritical PressureLevel = "critical"
)

// Pressure is the context handed to an eviction strategy.
type Pressure struct {
	Level       PressureLevel
	Utilization float64
}

// PressureForUtilization maps a tier's fill ratio to a pressure level.
func PressureForUtilization(utilization float64) Pressure {
	level := PressureLow
	switch {
	case utilization >= 0.95:
		level = PressureCritical
	case utilization >= 0.85:
		level = PressureHigh
	case utilization >= 0.70:
		level = PressureModerate
	}
	return Pressure{Level: level, Utilization: utilization}
}

// adaptiveWeights blends the four evictability factors. The weights shift
// toward size-avoidance as pressure rises, and the multiplier scales the
// final score from 1.0 at low pressure to 2.0 at critical.
type adaptiveWeights struct {
	recency    float64
	frequency  float64
	size       float64
	ttl        float64
	multiplier float64
}

var pressureProfiles = map[PressureLevel]adaptiveWeights{
	PressureLow:      {recency: 0.40, frequency: 0.30, size: 0.10, ttl: 0.20, multiplier: 1.0},
	PressureModerate: {recency: 0.35, frequency: 0.25, size: 0.20, ttl: 0.20, multiplier: 1.25},
	PressureHigh:     {recency: 0.30, frequency: 0.20, size: 0.35, ttl: 0.15, multiplier: 1.5},
	PressureCritical: {recency: 0.20, frequency: 0.15, size: 0.50, ttl: 0.15, multiplier: 2.0},
}

// EvictionStrategy ranks candidate entries and returns the n most evictable.
type EvictionStrategy interface {
	Name() tierkeep.EvictionPolicy
	SelectVictims(candidates []*Entry, n int, pressure Pressure, now time.Time) []*Entry
}

// NewEvictionStrategy builds the strategy for a validated policy name.
func NewEvictionStrategy(policy tierkeep.EvictionPolicy) (EvictionStrategy, error) {
	switch policy {
	case tierkeep.EvictionLRU:
		return &lruStrategy{}, nil
	case tierkeep.EvictionLFU:
		return &lfuStrategy{}, nil
	case tierkeep.EvictionTTL:
		return &ttlFirstStrategy{}, nil
	case tierkeep.EvictionAdaptive:
		return &adaptiveStrategy{}, nil
	}
	return nil, fmt.Errorf("no eviction strategy registered for policy %q", policy)
}

// lruStrategy evicts the entries with the oldest last access time.
type lruStrategy struct{}

func (s *lruStrategy) Name() tierkeep.EvictionPolicy { return tierkeep.EvictionLRU }

func (s *lruStrategy) SelectVictims(candidates []*Entry, n int, _ Pressure, _ time.Time) []*Entry {
	ranked := append([]*Entry(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].LastAccessedAt.Before(ranked[j].LastAccessedAt)
	})
	return truncateVictims(ranked, n)
}

// lfuStrategy evicts the entries with the lowest access count, breaking ties
// by oldest access so a stale entry goes before a recently touched one.
type lfuStrategy struct{}

func (s *lfuStrategy) Name() tierkeep.EvictionPolicy { return tierkeep.EvictionLFU }

func (s *lfuStrategy) SelectVictims(candidates []*Entry, n int, _ Pressure, _ time.Time) []*Entry {
	ranked := append([]*Entry(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].AccessCount != ranked[j].AccessCount {
			return ranked[i].AccessCount < ranked[j].AccessCount
		}
		return ranked[i].LastAccessedAt.Before(ranked[j].LastAccessedAt)
	})
	return truncateVictims(ranked, n)
}

// ttlFirstStrategy evicts already-expired entries first and falls back to
// oldest-accessed when there are not enough expired candidates.
type ttlFirstStrategy struct{}

func (s *ttlFirstStrategy) Name() tierkeep.EvictionPolicy { return tierkeep.EvictionTTL }

func (s *ttlFirstStrategy) SelectVictims(candidates []*Entry, n int, _ Pressure, now time.Time) []*Entry {
	var expired, live []*Entry
	for _, entry := range candidates {
		if entry.Expired(now) {
			expired = append(expired, entry)
		} else {
			live = append(live, entry)
		}
	}
	sort.SliceStable(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].LastAccessedAt.Before(live[j].LastAccessedAt)
	})
	return truncateVictims(append(expired, live...), n)
}

// adaptiveStrategy blends recency, inverse frequency, size, and TTL
// proximity into one evictability score. The active pressure profile decides
// how much each factor matters; the highest scores are evicted first.
type adaptiveStrategy struct{}

func (s *adaptiveStrategy) Name() tierkeep.EvictionPolicy { return tierkeep.EvictionAdaptive }

func (s *adaptiveStrategy) SelectVictims(candidates []*Entry, n int, pressure Pressure, now time.Time) []*Entry {
	if len(candidates) == 0 || n <= 0 {
		return nil
	}

	weights, ok := pressureProfiles[pressure.Level]
	if !ok {
		weights = pressureProfiles[PressureLow]
	}

	var maxSize int64
	for _, entry := range candidates {
		if entry.Size > maxSize {
			maxSize = entry.Size
		}
	}

	scores := make(map[*Entry]float64, len(candidates))
	for _, entry := range candidates {
		scores[entry] = s.evictability(entry, weights, maxSize, now)
	}

	ranked := append([]*Entry(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})
	return truncateVictims(ranked, n)
}

func (s *adaptiveStrategy) evictability(entry *Entry, weights adaptiveWeights, maxSize int64, now time.Time) float64 {
	// Idle entries approach 1.0 after an hour untouched.
	recency := math.Min(1, now.Sub(entry.LastAccessedAt).Seconds()/3600)

	frequency := 1 / float64(entry.AccessCount+1)

	size := 0.0
	if maxSize > 0 {
		size = float64(entry.Size) / float64(maxSize)
	}

	ttl := 0.0
	if entry.TTL > 0 {
		remaining := entry.TTL - now.Sub(entry.CreatedAt)
		if remaining <= 0 {
			ttl = 1
		} else {
			ttl = 1 - math.Min(1, float64(remaining)/float64(entry.TTL))
		}
	}

	blended := weights.recency*recency +
		weights.frequency*frequency +
		weights.size*size +
		weights.ttl*ttl
	return blended * weights.multiplier
}

func truncateVictims(ranked []*Entry, n int) []*Entry {
	if n <= 0 {
		return nil
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}
