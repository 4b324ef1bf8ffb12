package cache

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tierkeep/tierkeep"
)

// Pattern table bounds. When a cache's table grows past the limit, the
// oldest-accessed patterns are pruned down to the target; the most recently
// accessed block is never touched.
const (
	patternTableLimit     = 10000
	patternTableTarget    = 8000
	patternTableProtected = 1000
)

// WarmupPattern is the per-key access history the warmup service keeps for
// each named cache. It persists independently of what the cache currently
// holds.
type WarmupPattern struct {
	Key            string
	Frequency      int64
	LastAccessedAt time.Time
	AverageSize    float64
	Priority       float64

	// Access counts bucketed by hour of day, for the predictive strategy.
	hourCounts [24]int64
}

// WarmupStrategyConfig bounds one candidate-selection strategy.
type WarmupStrategyConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries int           `yaml:"max_entries"`
	Window     time.Duration `yaml:"window"`

	// MinFrequency applies to the frequency strategy only.
	MinFrequency int64 `yaml:"min_frequency"`

	// SmallSizeLimit applies to the size-optimized strategy only.
	SmallSizeLimit int64 `yaml:"small_size_limit"`

	// PriorityBoost scales a pattern's priority when this strategy picks it.
	PriorityBoost float64 `yaml:"priority_boost"`
}

// WarmupConfig configures the warmup service.
type WarmupConfig struct {
	Enabled       bool                 `yaml:"enabled"`
	MaxEntries    int                  `yaml:"max_entries"`
	Frequency     WarmupStrategyConfig `yaml:"frequency"`
	Recency       WarmupStrategyConfig `yaml:"recency"`
	SizeOptimized WarmupStrategyConfig `yaml:"size_optimized"`
	Predictive    WarmupStrategyConfig `yaml:"predictive"`
}

// DefaultWarmupConfig returns the stock strategy mix.
func DefaultWarmupConfig() *WarmupConfig {
	return &WarmupConfig{
		Enabled:       true,
		MaxEntries:    100,
		Frequency:     WarmupStrategyConfig{Enabled: true, MaxEntries: 50, Window: 24 * time.Hour, MinFrequency: 5, PriorityBoost: 1.2},
		Recency:       WarmupStrategyConfig{Enabled: true, MaxEntries: 30, Window: time.Hour, PriorityBoost: 1.1},
		SizeOptimized: WarmupStrategyConfig{Enabled: true, MaxEntries: 40, Window: 12 * time.Hour, SmallSizeLimit: 4096, PriorityBoost: 1.0},
		Predictive:    WarmupStrategyConfig{Enabled: true, MaxEntries: 30, Window: 7 * 24 * time.Hour, PriorityBoost: 1.15},
	}
}

// WarmupResult reports one warmup run. A run that cannot proceed is a
// structured skip, never an error.
type WarmupResult struct {
	RunID         string        `json:"run_id"`
	CacheName     string        `json:"cache_name"`
	EntriesWarmed int           `json:"entries_warmed"`
	Duration      time.Duration `json:"duration"`
	Failures      []string      `json:"failures,omitempty"`
	Skipped       bool          `json:"skipped"`
	SkipReason    string        `json:"skip_reason,omitempty"`
}

// WarmedValue is the synthesized payload stored for a warmed key. The real
// value arrives the next time the collaborator sets the key; until then the
// entry holds the key's place in the right tier.
type WarmedValue struct {
	Key         string    `json:"key"`
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
}

// WarmupService learns access patterns per named cache and pre-populates the
// cache with the keys most likely to be asked for next.
type WarmupService struct {
	mu       sync.Mutex
	config   *WarmupConfig
	clk      clock.Clock
	logger   *zap.SugaredLogger
	patterns map[string]map[string]*WarmupPattern
}

// NewWarmupService builds the service; a nil config means defaults.
func NewWarmupService(config *WarmupConfig, clk clock.Clock, logger *zap.SugaredLogger) *WarmupService {
	if config == nil {
		config = DefaultWarmupConfig()
	}
	return &WarmupService{
		config:   config,
		clk:      clk,
		logger:   logger,
		patterns: make(map[string]map[string]*WarmupPattern),
	}
}

// RecordAccess updates the pattern for key in cacheName and recomputes its
// warmup priority.
func (s *WarmupService) RecordAccess(cacheName, key string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.patterns[cacheName]
	if !ok {
		table = make(map[string]*WarmupPattern)
		s.patterns[cacheName] = table
	}

	now := s.clk.Now()
	pattern, ok := table[key]
	if !ok {
		pattern = &WarmupPattern{Key: key, AverageSize: float64(size)}
		table[key] = pattern
	} else {
		pattern.AverageSize = (pattern.AverageSize*float64(pattern.Frequency) + float64(size)) / float64(pattern.Frequency+1)
	}
	pattern.Frequency++
	pattern.LastAccessedAt = now
	pattern.hourCounts[now.Hour()]++
	pattern.Priority = warmupPriority(pattern, now)

	if len(table) > patternTableLimit {
		s.pruneLocked(cacheName, table)
	}
}

// PatternCount returns how many patterns are recorded for cacheName.
func (s *WarmupService) PatternCount(cacheName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patterns[cacheName])
}

// WarmupCache applies every enabled strategy to the recorded patterns of
// cacheName, merges the candidates keeping the highest adjusted priority per
// key, and populates target with synthesized values for the survivors.
func (s *WarmupService) WarmupCache(ctx context.Context, cacheName string, target tierkeep.Cache) *WarmupResult {
	start := s.clk.Now()
	result := &WarmupResult{RunID: uuid.NewString(), CacheName: cacheName}

	if !s.config.Enabled {
		result.Skipped = true
		result.SkipReason = "warming disabled"
		return result
	}
	if target == nil {
		result.Skipped = true
		result.SkipReason = "invalid cache handle"
		s.logger.Warnw("Warmup skipped", "cache", cacheName, "reason", result.SkipReason)
		return result
	}

	// Snapshot under the lock so populating the target cannot contend with
	// concurrent RecordAccess calls.
	s.mu.Lock()
	table := s.patterns[cacheName]
	patterns := make([]*WarmupPattern, 0, len(table))
	for _, pattern := range table {
		snapshot := *pattern
		patterns = append(patterns, &snapshot)
	}
	s.mu.Unlock()

	now := s.clk.Now()
	best := make(map[string]float64)
	for _, candidate := range s.collectCandidates(patterns, now) {
		if priority, seen := best[candidate.key]; !seen || candidate.priority > priority {
			best[candidate.key] = candidate.priority
		}
	}

	ordered := make([]warmupCandidate, 0, len(best))
	for key, priority := range best {
		ordered = append(ordered, warmupCandidate{key: key, priority: priority})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority > ordered[j].priority
		}
		return ordered[i].key < ordered[j].key
	})
	if s.config.MaxEntries > 0 && len(ordered) > s.config.MaxEntries {
		ordered = ordered[:s.config.MaxEntries]
	}

	for _, candidate := range ordered {
		if err := ctx.Err(); err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", candidate.key, err))
			break
		}
		if err := s.populate(target, candidate.key, result.RunID, now); err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", candidate.key, err))
			continue
		}
		result.EntriesWarmed++
	}

	result.Duration = s.clk.Now().Sub(start)
	s.logger.Infow("Cache warmup finished",
		"cache", cacheName, "run_id", result.RunID,
		"candidates", len(ordered), "warmed", result.EntriesWarmed, "failures", len(result.Failures))
	return result
}

type warmupCandidate struct {
	key      string
	priority float64
}

func (s *WarmupService) collectCandidates(patterns []*WarmupPattern, now time.Time) []warmupCandidate {
	var all []warmupCandidate
	all = append(all, s.frequencyCandidates(patterns, now)...)
	all = append(all, s.recencyCandidates(patterns, now)...)
	all = append(all, s.sizeCandidates(patterns, now)...)
	all = append(all, s.predictiveCandidates(patterns, now)...)
	return all
}

// frequencyCandidates picks the most often accessed keys inside the window.
func (s *WarmupService) frequencyCandidates(patterns []*WarmupPattern, now time.Time) []warmupCandidate {
	cfg := s.config.Frequency
	if !cfg.Enabled {
		return nil
	}
	var picked []*WarmupPattern
	for _, pattern := range patterns {
		if pattern.Frequency >= cfg.MinFrequency && now.Sub(pattern.LastAccessedAt) <= cfg.Window {
			picked = append(picked, pattern)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].Frequency > picked[j].Frequency })
	return boostCandidates(picked, cfg)
}

// recencyCandidates picks the keys touched most recently.
func (s *WarmupService) recencyCandidates(patterns []*WarmupPattern, now time.Time) []warmupCandidate {
	cfg := s.config.Recency
	if !cfg.Enabled {
		return nil
	}
	var picked []*WarmupPattern
	for _, pattern := range patterns {
		if now.Sub(pattern.LastAccessedAt) <= cfg.Window {
			picked = append(picked, pattern)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].LastAccessedAt.After(picked[j].LastAccessedAt) })
	return boostCandidates(picked, cfg)
}

// sizeCandidates prefers small values: many of them fit for the cost of one
// large entry.
func (s *WarmupService) sizeCandidates(patterns []*WarmupPattern, now time.Time) []warmupCandidate {
	cfg := s.config.SizeOptimized
	if !cfg.Enabled {
		return nil
	}
	var picked []*WarmupPattern
	for _, pattern := range patterns {
		if now.Sub(pattern.LastAccessedAt) <= cfg.Window && int64(pattern.AverageSize) <= cfg.SmallSizeLimit {
			picked = append(picked, pattern)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].AverageSize < picked[j].AverageSize })
	return boostCandidates(picked, cfg)
}

// predictiveCandidates picks keys whose historical accesses cluster around
// the current hour of day, plus or minus one hour.
func (s *WarmupService) predictiveCandidates(patterns []*WarmupPattern, now time.Time) []warmupCandidate {
	cfg := s.config.Predictive
	if !cfg.Enabled {
		return nil
	}
	hour := now.Hour()
	shares := make(map[*WarmupPattern]float64)
	var picked []*WarmupPattern
	for _, pattern := range patterns {
		if now.Sub(pattern.LastAccessedAt) > cfg.Window || pattern.Frequency == 0 {
			continue
		}
		inWindow := pattern.hourCounts[(hour+23)%24] + pattern.hourCounts[hour] + pattern.hourCounts[(hour+1)%24]
		if inWindow == 0 {
			continue
		}
		shares[pattern] = float64(inWindow) / float64(pattern.Frequency)
		picked = append(picked, pattern)
	}
	sort.Slice(picked, func(i, j int) bool { return shares[picked[i]] > shares[picked[j]] })
	if cfg.MaxEntries > 0 && len(picked) > cfg.MaxEntries {
		picked = picked[:cfg.MaxEntries]
	}
	candidates := make([]warmupCandidate, 0, len(picked))
	for _, pattern := range picked {
		candidates = append(candidates, warmupCandidate{
			key:      pattern.Key,
			priority: pattern.Priority * cfg.PriorityBoost * (1 + shares[pattern]),
		})
	}
	return candidates
}

func boostCandidates(picked []*WarmupPattern, cfg WarmupStrategyConfig) []warmupCandidate {
	if cfg.MaxEntries > 0 && len(picked) > cfg.MaxEntries {
		picked = picked[:cfg.MaxEntries]
	}
	candidates := make([]warmupCandidate, 0, len(picked))
	for _, pattern := range picked {
		candidates = append(candidates, warmupCandidate{key: pattern.Key, priority: pattern.Priority * cfg.PriorityBoost})
	}
	return candidates
}

func (s *WarmupService) populate(target tierkeep.Cache, key, runID string, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache rejected warmed entry: %v", r)
		}
	}()
	target.Set(key, WarmedValue{Key: key, RunID: runID, GeneratedAt: now})
	return nil
}

// warmupPriority blends frequency, staleness, and size into a single rank.
// The constants carry over from the original heuristics.
func warmupPriority(pattern *WarmupPattern, now time.Time) float64 {
	hoursSince := now.Sub(pattern.LastAccessedAt).Hours()
	return math.Log(float64(pattern.Frequency)+1)*2 +
		math.Max(0, 10-hoursSince) +
		math.Max(1, 5-math.Log10(pattern.AverageSize+1))
}

// pruneLocked drops the oldest-accessed patterns until the table is back at
// its target size. The most recently accessed block is never a candidate.
func (s *WarmupService) pruneLocked(cacheName string, table map[string]*WarmupPattern) {
	ordered := make([]*WarmupPattern, 0, len(table))
	for _, pattern := range table {
		ordered = append(ordered, pattern)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].LastAccessedAt.Before(ordered[j].LastAccessedAt)
	})

	protectedFrom := len(ordered) - patternTableProtected
	removed := 0
	for i, pattern := range ordered {
		if len(table) <= patternTableTarget || i >= protectedFrom {
			break
		}
		delete(table, pattern.Key)
		removed++
	}
	s.logger.Infow("Pruned warmup patterns", "cache", cacheName, "removed", removed, "remaining", len(table))
}
