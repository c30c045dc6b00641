// Package config loads run configuration for the cachesim command from
// files, CACHESIM_ environment variables and .env files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sarchlab/cachelab/cache"
	"github.com/sarchlab/cachelab/harness"
	"github.com/sarchlab/cachelab/workload"
)

// EnvPrefix prefixes every environment override, e.g.
// CACHESIM_CACHE_TOTAL_SIZE_WIDTH.
const EnvPrefix = "CACHESIM"

// CacheSection describes the simulated cache.
type CacheSection struct {
	TotalSizeWidth     int    `mapstructure:"total_size_width" json:"total_size_width"`
	AssociativityWidth int    `mapstructure:"associativity_width" json:"associativity_width"`
	BlockWidth         int    `mapstructure:"block_width" json:"block_width"`
	Seed               uint64 `mapstructure:"seed" json:"seed"`
}

// MemorySection holds the latency model.
type MemorySection struct {
	HitLatency    uint64 `mapstructure:"hit_latency" json:"hit_latency"`
	MemoryLatency uint64 `mapstructure:"memory_latency" json:"memory_latency"`
}

// HarnessSection selects the workloads to run.
type HarnessSection struct {
	Accesses  int      `mapstructure:"accesses" json:"accesses"`
	Footprint uint32   `mapstructure:"footprint" json:"footprint"`
	Workloads []string `mapstructure:"workloads" json:"workloads"`
	Verify    bool     `mapstructure:"verify" json:"verify"`
}

// LoggingSection configures zerolog output.
type LoggingSection struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// RecordSection enables the SQLite result store.
type RecordSection struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
}

// RunConfig is the complete configuration of one cachesim invocation.
type RunConfig struct {
	Cache   CacheSection   `mapstructure:"cache" json:"cache"`
	Memory  MemorySection  `mapstructure:"memory" json:"memory"`
	Harness HarnessSection `mapstructure:"harness" json:"harness"`
	Logging LoggingSection `mapstructure:"logging" json:"logging"`
	Record  RecordSection  `mapstructure:"record" json:"record"`
}

// DefaultRunConfig mirrors cache.DefaultConfig and harness.DefaultConfig.
func DefaultRunConfig() *RunConfig {
	c := cache.DefaultConfig()
	h := harness.DefaultConfig()

	return &RunConfig{
		Cache: CacheSection{
			TotalSizeWidth:     c.TotalSizeWidth,
			AssociativityWidth: c.AssociativityWidth,
			BlockWidth:         c.BlockWidth,
			Seed:               h.Seed,
		},
		Memory: MemorySection{
			HitLatency:    h.HitLatency,
			MemoryLatency: h.MemoryLatency,
		},
		Harness: HarnessSection{
			Accesses:  h.Accesses,
			Footprint: h.Footprint,
			Workloads: []string{},
			Verify:    h.Verify,
		},
		Logging: LoggingSection{
			Level:  "info",
			Format: "console",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultRunConfig()

	v.SetDefault("cache.total_size_width", d.Cache.TotalSizeWidth)
	v.SetDefault("cache.associativity_width", d.Cache.AssociativityWidth)
	v.SetDefault("cache.block_width", d.Cache.BlockWidth)
	v.SetDefault("cache.seed", d.Cache.Seed)

	v.SetDefault("memory.hit_latency", d.Memory.HitLatency)
	v.SetDefault("memory.memory_latency", d.Memory.MemoryLatency)

	v.SetDefault("harness.accesses", d.Harness.Accesses)
	v.SetDefault("harness.footprint", d.Harness.Footprint)
	v.SetDefault("harness.workloads", d.Harness.Workloads)
	v.SetDefault("harness.verify", d.Harness.Verify)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("record.enabled", d.Record.Enabled)
	v.SetDefault("record.path", d.Record.Path)
}

// Load reads the configuration file at path, if any, and applies environment
// overrides on top. The file type follows the extension (toml, yaml, json).
// An empty path uses defaults and the environment only.
func Load(path string) (*RunConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &RunConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv loads environment variables from the given files, .env when
// none are given. Missing files are skipped and variables already set in the
// environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}

	return nil
}

// CacheConfig returns the cache geometry.
func (c *RunConfig) CacheConfig() cache.Config {
	return cache.Config{
		TotalSizeWidth:     c.Cache.TotalSizeWidth,
		AssociativityWidth: c.Cache.AssociativityWidth,
		BlockWidth:         c.Cache.BlockWidth,
	}
}

// HarnessConfig returns a harness configuration without output or logger.
func (c *RunConfig) HarnessConfig() harness.HarnessConfig {
	h := harness.DefaultConfig()
	h.Cache = c.CacheConfig()
	h.Seed = c.Cache.Seed
	h.Accesses = c.Harness.Accesses
	h.Footprint = c.Harness.Footprint
	h.HitLatency = c.Memory.HitLatency
	h.MemoryLatency = c.Memory.MemoryLatency
	h.Verify = c.Harness.Verify
	return h
}

// Workloads resolves the configured workload names. An empty list selects
// every standard workload.
func (c *RunConfig) Workloads() ([]workload.Workload, error) {
	if len(c.Harness.Workloads) == 0 {
		return workload.Standard(), nil
	}

	found, unknown := workload.ByName(c.Harness.Workloads)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown workloads: %s", strings.Join(unknown, ", "))
	}
	return found, nil
}

// Validate checks that the configuration is usable.
func (c *RunConfig) Validate() error {
	if err := c.HarnessConfig().Validate(); err != nil {
		return err
	}

	if _, err := c.Workloads(); err != nil {
		return err
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}

// Save writes the configuration to a JSON file.
func (c *RunConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
