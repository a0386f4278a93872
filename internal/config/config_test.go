package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, 300, cfg.RemovalGracePeriodSec)
	assert.Equal(t, 2, cfg.RemovalMinCycles)
	assert.Equal(t, float64(10), cfg.TraceErrorThresholdPct)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hindsight.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
snapshot_dir: /data/incident-42
transport: http
http_addr: ":9090"
trace_error_threshold_pct: 25
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/incident-42", cfg.SnapshotDir)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, float64(25), cfg.TraceErrorThresholdPct)
	// Untouched fields keep their defaults.
	assert.Equal(t, 64, cfg.CacheSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty snapshot dir", func(c *Config) { c.SnapshotDir = "" }},
		{"bad transport", func(c *Config) { c.Transport = "grpc" }},
		{"negative cache", func(c *Config) { c.CacheSize = 0 }},
		{"negative threshold", func(c *Config) { c.TraceErrorThresholdPct = -1 }},
		{"tracing without endpoint", func(c *Config) { c.TracingEnabled = true; c.TracingEndpoint = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}
