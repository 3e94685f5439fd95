package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ".JK", cfg.Provider.ExchangeSuffix)
	assert.Equal(t, "momentum", cfg.Grading.Policy)
	assert.Equal(t, 60*time.Second, cfg.Cache.TTL)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Scanner.Workers, cfg.Scanner.Workers)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
scanner:
  workers: 4
  lookback: 30
  sort_by: edge
grading:
  policy: classic
cache:
  ttl: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scanner.Workers)
	assert.Equal(t, 30, cfg.Scanner.Lookback)
	assert.Equal(t, "edge", cfg.Scanner.SortBy)
	assert.Equal(t, "classic", cfg.Grading.Policy)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	// untouched fields keep defaults
	assert.Equal(t, 14, cfg.Scanner.ATRWindow)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scanner: [oops"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCREENER_POLICY", "classic")
	t.Setenv("SCREENER_CACHE_TTL", "90s")
	t.Setenv("SCREENER_PORT", "9090")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "classic", cfg.Grading.Policy)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 9090, cfg.Web.Port)
}

func TestEnvOverrideBadPort(t *testing.T) {
	t.Setenv("SCREENER_PORT", "eighty")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no workers", func(c *Config) { c.Scanner.Workers = 0 }},
		{"short lookback", func(c *Config) { c.Scanner.Lookback = 1 }},
		{"zero atr window", func(c *Config) { c.Scanner.ATRWindow = 0 }},
		{"negative run timeout", func(c *Config) { c.Scanner.Timeout = -time.Second }},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "disk" }},
		{"redis without url", func(c *Config) { c.Cache.Backend = "redis" }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"fast refresh", func(c *Config) { c.Web.RefreshInterval = time.Millisecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
