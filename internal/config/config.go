// Package config loads the hindsight configuration file and applies
// defaults and validation.
package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Config is the flat application configuration. Zero values are filled
// in from DefaultConfig during Load; CLI flags may override individual
// fields after loading.
type Config struct {
	// SnapshotDir is the scenario directory holding captured TSV/JSON files
	SnapshotDir string `yaml:"snapshot_dir"`

	// CacheSize is the number of parsed tables held in the LRU cache
	CacheSize int `yaml:"cache_size"`

	// WatchSnapshots enables fsnotify-based cache invalidation
	WatchSnapshots bool `yaml:"watch_snapshots"`

	// Trace regression thresholds, in percent
	TraceErrorThresholdPct   float64 `yaml:"trace_error_threshold_pct"`
	TraceLatencyThresholdPct float64 `yaml:"trace_latency_threshold_pct"`

	// Lifecycle defaults for window-mode removal hysteresis
	RemovalGracePeriodSec int `yaml:"removal_grace_period_sec"`
	RemovalMinCycles      int `yaml:"removal_min_cycles"`

	// MCP transport
	Transport   string `yaml:"transport"` // "stdio" or "http"
	HTTPAddr    string `yaml:"http_addr"`
	MCPEndpoint string `yaml:"mcp_endpoint"`

	// Telemetry
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingInsecure bool   `yaml:"tracing_insecure"`
	TracingCAPath   string `yaml:"tracing_ca_path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		SnapshotDir:              ".",
		CacheSize:                64,
		TraceErrorThresholdPct:   10,
		TraceLatencyThresholdPct: 10,
		RemovalGracePeriodSec:    300,
		RemovalMinCycles:         2,
		Transport:                "stdio",
		HTTPAddr:                 ":8082",
		MCPEndpoint:              "/mcp",
		MetricsEnabled:           true,
	}
}

// Load reads a YAML config file and merges it over the defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if c.SnapshotDir == "" {
		return &ConfigError{Field: "snapshot_dir", Message: "must not be empty"}
	}
	if c.CacheSize <= 0 {
		return &ConfigError{Field: "cache_size", Message: fmt.Sprintf("must be positive, got %d", c.CacheSize)}
	}
	if c.Transport != "stdio" && c.Transport != "http" {
		return &ConfigError{Field: "transport", Message: fmt.Sprintf("must be 'stdio' or 'http', got %q", c.Transport)}
	}
	if c.TraceErrorThresholdPct < 0 || c.TraceLatencyThresholdPct < 0 {
		return &ConfigError{Field: "trace thresholds", Message: "must be non-negative"}
	}
	if c.RemovalGracePeriodSec < 0 {
		return &ConfigError{Field: "removal_grace_period_sec", Message: "must be non-negative"}
	}
	if c.RemovalMinCycles < 0 {
		return &ConfigError{Field: "removal_min_cycles", Message: "must be non-negative"}
	}
	if c.TracingEnabled && c.TracingEndpoint == "" {
		return &ConfigError{Field: "tracing_endpoint", Message: "required when tracing is enabled"}
	}
	return nil
}
