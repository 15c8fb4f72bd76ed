// File: internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)

	assert.Equal(t, 3, cfg.Recovery.MaxRetries)
	assert.Equal(t, time.Second, cfg.Recovery.RetryDelay)
	assert.Equal(t, 500, cfg.Recovery.HistoryLimit)
	assert.True(t, cfg.Recovery.Browser.FallbackSelectorsEnabled)
	assert.True(t, cfg.Recovery.Browser.ScreenshotAnalysisEnabled)
	assert.True(t, cfg.Recovery.Browser.AdaptiveSelectorsEnabled)
	assert.Equal(t, 3, cfg.Recovery.AI.MaxRetries)
	assert.True(t, cfg.Recovery.AI.DegradedModeEnabled)
	assert.True(t, cfg.Recovery.AI.CacheEnabled)
	assert.Equal(t, 30*time.Second, cfg.Recovery.AI.Timeout)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logger:
  level: debug
recovery:
  max_retries: 5
  retry_delay: 250ms
  ai:
    fallback_models:
      - gemini-2.0-flash-lite
cache:
  backend: redis
  redis_url: redis://localhost:6379/1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 5, cfg.Recovery.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Recovery.RetryDelay)
	assert.Equal(t, []string{"gemini-2.0-flash-lite"}, cfg.Recovery.AI.FallbackModels)
	assert.Equal(t, "redis", cfg.Cache.Backend)

	// Unset keys keep their defaults.
	assert.Equal(t, 3, cfg.Recovery.AI.MaxRetries)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Recovery.MaxRetries)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SABI_RECOVERY_MAX_RETRIES", "7")
	t.Setenv("SABI_LLM_MODEL", "gemini-2.5-pro")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Recovery.MaxRetries)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero retries",
			mutate:  func(c *Config) { c.Recovery.MaxRetries = 0 },
			wantErr: "recovery.max_retries",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.Recovery.RetryDelay = -time.Second },
			wantErr: "recovery.retry_delay",
		},
		{
			name:    "zero ai retries",
			mutate:  func(c *Config) { c.Recovery.AI.MaxRetries = 0 },
			wantErr: "recovery.ai.max_retries",
		},
		{
			name:    "redis without url",
			mutate:  func(c *Config) { c.Cache.Backend = "redis"; c.Cache.RedisURL = "" },
			wantErr: "cache.redis_url",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "unknown cache backend",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
