package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tierkeep/tierkeep"
	"github.com/tierkeep/tierkeep/cache"
	"github.com/tierkeep/tierkeep/utils/env"
)

// Config is the full cache subsystem configuration.
type Config struct {
	// Enabled gates background maintenance and warming. Caches still serve
	// reads and writes when disabled.
	Enabled bool `yaml:"enabled"`

	// Entry capacities of the three default caches.
	TokenCacheSize    int `yaml:"token_cache_size"`
	ResultCacheSize   int `yaml:"result_cache_size"`
	TemplateCacheSize int `yaml:"template_cache_size"`

	// Default entry TTL in milliseconds.
	TTLMillis int64 `yaml:"ttl_millis"`

	// Hit percentage the deployment aims for, in (0, 100].
	TargetHitRatio float64 `yaml:"target_hit_ratio"`

	// EnableWarming turns predictive cache warming on.
	EnableWarming bool `yaml:"enable_warming"`

	// EvictionStrategy for single-tier caches: lru, lfu, ttl, or adaptive.
	EvictionStrategy string `yaml:"eviction_strategy"`

	// EnableMultiTier backs each cache with the hot/warm/cold store
	// instead of a single-tier LRU.
	EnableMultiTier bool `yaml:"enable_multi_tier"`

	// Background expiry sweep cadence in seconds.
	MaintenanceIntervalSeconds int `yaml:"maintenance_interval_seconds"`

	// Port of the admin/metrics server.
	Port int `yaml:"port"`

	// Warmup tunes the predictive warming strategies. Nil means defaults.
	Warmup *cache.WarmupConfig `yaml:"warmup"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:                    true,
		TokenCacheSize:             10000,
		ResultCacheSize:            5000,
		TemplateCacheSize:          1000,
		TTLMillis:                  3600000,
		TargetHitRatio:             80,
		EnableWarming:              true,
		EvictionStrategy:           string(tierkeep.EvictionLRU),
		EnableMultiTier:            true,
		MaintenanceIntervalSeconds: 60,
		Port:                       8091,
	}
}

// LoadConfig loads configuration from an optional YAML file, then applies
// environment variable overrides, then validates. Environment variables
// precede values from the file.
func LoadConfig(path string, logger *zap.SugaredLogger) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		logger.Infow("Loading config", "path", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %v", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %v", err)
		}
	}

	config.Enabled = env.OptionalBoolVariable("TIERKEEP_ENABLED", config.Enabled)
	config.TokenCacheSize = env.OptionalIntVariable("TIERKEEP_TOKEN_CACHE_SIZE", config.TokenCacheSize)
	config.ResultCacheSize = env.OptionalIntVariable("TIERKEEP_RESULT_CACHE_SIZE", config.ResultCacheSize)
	config.TemplateCacheSize = env.OptionalIntVariable("TIERKEEP_TEMPLATE_CACHE_SIZE", config.TemplateCacheSize)
	config.TTLMillis = env.OptionalInt64Variable("TIERKEEP_TTL_MILLIS", config.TTLMillis)
	config.TargetHitRatio = env.OptionalFloatVariable("TIERKEEP_TARGET_HIT_RATIO", config.TargetHitRatio)
	config.EnableWarming = env.OptionalBoolVariable("TIERKEEP_ENABLE_WARMING", config.EnableWarming)
	config.EvictionStrategy = env.OptionalStringVariable("TIERKEEP_EVICTION_STRATEGY", config.EvictionStrategy)
	config.EnableMultiTier = env.OptionalBoolVariable("TIERKEEP_ENABLE_MULTI_TIER", config.EnableMultiTier)
	config.MaintenanceIntervalSeconds = env.OptionalIntVariable("TIERKEEP_MAINTENANCE_INTERVAL_SECONDS", config.MaintenanceIntervalSeconds)
	config.Port = env.OptionalIntVariable("TIERKEEP_PORT", config.Port)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate fails fast on invalid values. Configuration errors are fatal and
// never silently defaulted.
func (c *Config) Validate() error {
	if _, err := tierkeep.ParseEvictionPolicy(c.EvictionStrategy); err != nil {
		return err
	}
	if c.TokenCacheSize <= 0 || c.ResultCacheSize <= 0 || c.TemplateCacheSize <= 0 {
		return fmt.Errorf("cache sizes must be positive (token=%d result=%d template=%d)",
			c.TokenCacheSize, c.ResultCacheSize, c.TemplateCacheSize)
	}
	if c.TTLMillis <= 0 {
		return fmt.Errorf("ttl_millis must be positive, got %d", c.TTLMillis)
	}
	if c.TargetHitRatio <= 0 || c.TargetHitRatio > 100 {
		return fmt.Errorf("target_hit_ratio must be in (0, 100], got %v", c.TargetHitRatio)
	}
	if c.MaintenanceIntervalSeconds <= 0 {
		return fmt.Errorf("maintenance_interval_seconds must be positive, got %d", c.MaintenanceIntervalSeconds)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in (0, 65535], got %d", c.Port)
	}
	return nil
}

// ToManagerConfig maps the configuration onto the cache manager's settings.
func (c *Config) ToManagerConfig() *cache.ManagerConfig {
	return &cache.ManagerConfig{
		Enabled:             c.Enabled,
		TokenCacheSize:      c.TokenCacheSize,
		ResultCacheSize:     c.ResultCacheSize,
		TemplateCacheSize:   c.TemplateCacheSize,
		DefaultTTL:          time.Duration(c.TTLMillis) * time.Millisecond,
		TargetHitRatio:      c.TargetHitRatio,
		EnableWarming:       c.EnableWarming,
		EvictionPolicy:      tierkeep.EvictionPolicy(c.EvictionStrategy),
		EnableMultiTier:     c.EnableMultiTier,
		MaintenanceInterval: time.Duration(c.MaintenanceIntervalSeconds) * time.Second,
		Warmup:              c.Warmup,
	}
}
