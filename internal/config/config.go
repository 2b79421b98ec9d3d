// Package config provides unified configuration loading for the RAGP engine.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Coalesce strategies for duplicate (node, source) stimuli within one batch.
const (
	CoalesceMax  = "max"
	CoalesceSum  = "sum"
	CoalesceLast = "last"
)

// Config contains all engine configuration settings.
type Config struct {
	// Storage contains settings for the on-disk base and delta files.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Cache contains settings for the hybrid pinned+LRU synapse cache.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Registry contains settings for the innate node registry.
	Registry RegistryConfig `json:"registry" yaml:"registry"`

	// Async contains settings for the sharded actor runtime.
	Async AsyncConfig `json:"async" yaml:"async"`

	// Kernel contains tunables for the activation kernel.
	Kernel KernelConfig `json:"kernel" yaml:"kernel"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// StorageConfig configures the storage directory and boot behavior.
type StorageConfig struct {
	// Dir is the storage directory. Default: "ragp_storage".
	Dir string `json:"dir" yaml:"dir"`

	// Reset wipes the storage directory on boot.
	Reset bool `json:"reset" yaml:"reset"`
}

// CacheConfig configures the hybrid synapse cache.
type CacheConfig struct {
	// Policy selects the cache policy: "pinned_lru" (default) or "lru"
	// (no pinned tier).
	Policy string `json:"policy" yaml:"policy"`

	// RAMFraction is the fraction of available RAM usable by the cache.
	RAMFraction float64 `json:"ram_fraction" yaml:"ram_fraction"`

	// RAMMinMB and RAMMaxMB are hard bounds on the computed budget.
	RAMMinMB uint64 `json:"ram_min_mb" yaml:"ram_min_mb"`
	RAMMaxMB uint64 `json:"ram_max_mb" yaml:"ram_max_mb"`

	// PinFraction is the share of the budget reserved for the pinned tier.
	PinFraction float64 `json:"pin_fraction" yaml:"pin_fraction"`
}

// RegistryConfig configures the innate node registry.
type RegistryConfig struct {
	// Version triggers a migration when it differs from the stored version.
	Version uint16 `json:"version" yaml:"version"`

	// NodeMax is the maximum node ID expected from the registry.
	NodeMax uint64 `json:"node_max" yaml:"node_max"`

	// LabelFile is an optional YAML file mapping node IDs to kinds and
	// semantic labels.
	LabelFile string `json:"label_file,omitempty" yaml:"label_file,omitempty"`

	// CriticalNodes must survive any migration; a migration that would
	// drop one aborts with a conflict.
	CriticalNodes []uint64 `json:"critical_nodes,omitempty" yaml:"critical_nodes,omitempty"`
}

// AsyncConfig configures the sharded actor runtime.
type AsyncConfig struct {
	// Enabled boots the async runtime at engine startup.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Shards is the number of shard actors. 0 means half the CPUs (min 2).
	Shards int `json:"shards" yaml:"shards"`

	// HopTTL bounds cross-shard propagation depth.
	HopTTL int `json:"hop_ttl" yaml:"hop_ttl"`

	// HighWater is the global queue length at which ingress switches to
	// coalesce mode. Crossing DropWater switches to drop mode; falling
	// below LowWater reverts to normal. DropWater defaults to 2*HighWater.
	HighWater int `json:"high_water" yaml:"high_water"`
	LowWater  int `json:"low_water" yaml:"low_water"`
	DropWater int `json:"drop_water" yaml:"drop_water"`

	// Coalesce selects the batch coalescing strategy: max, sum, or last.
	Coalesce string `json:"coalesce" yaml:"coalesce"`
}

// KernelConfig tunes the activation kernel.
type KernelConfig struct {
	// DecayGamma is the multiplicative per-tick activation decay, in (0,1).
	DecayGamma float64 `json:"decay_gamma" yaml:"decay_gamma"`

	// MinActivation is the epsilon below which activations are dropped.
	MinActivation float64 `json:"min_activation" yaml:"min_activation"`

	// WindowSize bounds the temporal co-activation window.
	WindowSize int `json:"window_size" yaml:"window_size"`

	// LearningRate is eta for Hebbian reinforcement.
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`

	// InitialWeight is the baseline weight for newly formed synapses.
	InitialWeight float64 `json:"initial_weight" yaml:"initial_weight"`

	// Scoring selects the compute_cd scoring function: "ratio" (default)
	// or "net".
	Scoring string `json:"scoring" yaml:"scoring"`
}

// LoggingConfig configures engine logging.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables event logging to <storage>/events.jsonl.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Dir: "ragp_storage",
		},
		Cache: CacheConfig{
			Policy:      "pinned_lru",
			RAMFraction: 0.25,
			RAMMinMB:    256,
			RAMMaxMB:    1536,
			PinFraction: 0.35,
		},
		Registry: RegistryConfig{
			Version: 1,
			NodeMax: 220,
		},
		Async: AsyncConfig{
			Enabled:   false,
			Shards:    0,
			HopTTL:    4,
			HighWater: 10000,
			LowWater:  2500,
			DropWater: 20000,
			Coalesce:  CoalesceMax,
		},
		Kernel: KernelConfig{
			DecayGamma:    0.9,
			MinActivation: 0.01,
			WindowSize:    5,
			LearningRate:  0.05,
			InitialWeight: 0.01,
			Scoring:       "ratio",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from an optional YAML file and environment
// variables. Order: defaults -> file -> environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Cache.Policy != "pinned_lru" && c.Cache.Policy != "lru" {
		return fmt.Errorf("invalid cache policy: %s (valid: pinned_lru, lru)", c.Cache.Policy)
	}
	if c.Cache.RAMFraction <= 0 || c.Cache.RAMFraction > 0.9 {
		return fmt.Errorf("cache ram_fraction must be in (0, 0.9], got %f", c.Cache.RAMFraction)
	}
	if c.Cache.RAMMaxMB < c.Cache.RAMMinMB {
		return fmt.Errorf("cache ram_max_mb %d below ram_min_mb %d", c.Cache.RAMMaxMB, c.Cache.RAMMinMB)
	}
	if c.Cache.PinFraction < 0.05 || c.Cache.PinFraction > 0.9 {
		return fmt.Errorf("cache pin_fraction must be in [0.05, 0.9], got %f", c.Cache.PinFraction)
	}
	if c.Kernel.DecayGamma <= 0 || c.Kernel.DecayGamma >= 1 {
		return fmt.Errorf("kernel decay_gamma must be in (0, 1), got %f", c.Kernel.DecayGamma)
	}
	if c.Kernel.WindowSize < 1 {
		return fmt.Errorf("kernel window_size must be >= 1, got %d", c.Kernel.WindowSize)
	}
	if c.Kernel.Scoring != "ratio" && c.Kernel.Scoring != "net" {
		return fmt.Errorf("invalid scoring function: %s (valid: ratio, net)", c.Kernel.Scoring)
	}
	switch c.Async.Coalesce {
	case CoalesceMax, CoalesceSum, CoalesceLast:
	default:
		return fmt.Errorf("invalid coalesce strategy: %s (valid: max, sum, last)", c.Async.Coalesce)
	}
	if c.Async.HopTTL < 1 {
		return fmt.Errorf("async hop_ttl must be >= 1, got %d", c.Async.HopTTL)
	}
	if c.Async.LowWater >= c.Async.HighWater {
		return fmt.Errorf("async low_water %d must be below high_water %d", c.Async.LowWater, c.Async.HighWater)
	}
	if c.Async.DropWater <= c.Async.HighWater {
		return fmt.Errorf("async drop_water %d must be above high_water %d", c.Async.DropWater, c.Async.HighWater)
	}
	validLevels := map[string]bool{"": true, "info": true, "debug": true, "trace": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace)", c.Logging.Level)
	}
	return nil
}

// applyEnvOverrides applies RAGP_* environment variable overrides.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("RAGP_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("RAGP_RESET_STORAGE"); v != "" {
		c.Storage.Reset = isTrue(v)
	}
	if v := os.Getenv("RAGP_CACHE_POLICY"); v != "" {
		c.Cache.Policy = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("RAGP_CACHE_RAM_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Cache.RAMFraction = f
		}
	}
	if v := os.Getenv("RAGP_CACHE_RAM_MIN_MB"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Cache.RAMMinMB = n
		}
	}
	if v := os.Getenv("RAGP_CACHE_RAM_MAX_MB"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Cache.RAMMaxMB = n
		}
	}
	if v := os.Getenv("RAGP_CACHE_PIN_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Cache.PinFraction = f
		}
	}
	if v := os.Getenv("RAGP_INNATE_REGISTRY_VERSION"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.Registry.Version = uint16(n)
		}
	}
	if v := os.Getenv("RAGP_NODE_MAX"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Registry.NodeMax = n
		}
	}
	if v := os.Getenv("RAGP_ASYNC"); v != "" {
		c.Async.Enabled = isTrue(v)
	}
	if v := os.Getenv("RAGP_ASYNC_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Async.Shards = n
		}
	}
	if v := os.Getenv("RAGP_ASYNC_HOP_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Async.HopTTL = n
		}
	}
	if v := os.Getenv("RAGP_ASYNC_COALESCE"); v != "" {
		c.Async.Coalesce = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("RAGP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}
