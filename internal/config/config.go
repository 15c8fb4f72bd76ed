// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// RecoveryConfig configures the error handler and both domain recovery
// modules.
type RecoveryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// HistoryLimit caps the in-memory error history kept for diagnostics.
	HistoryLimit int                   `mapstructure:"history_limit" yaml:"history_limit"`
	Browser      BrowserRecoveryConfig `mapstructure:"browser" yaml:"browser"`
	AI           AIRecoveryConfig      `mapstructure:"ai" yaml:"ai"`
}

// BrowserRecoveryConfig gates the optional browser-side strategies.
type BrowserRecoveryConfig struct {
	FallbackSelectorsEnabled  bool `mapstructure:"fallback_selectors_enabled" yaml:"fallback_selectors_enabled"`
	ScreenshotAnalysisEnabled bool `mapstructure:"screenshot_analysis_enabled" yaml:"screenshot_analysis_enabled"`
	AdaptiveSelectorsEnabled  bool `mapstructure:"adaptive_selectors_enabled" yaml:"adaptive_selectors_enabled"`
}

// AIRecoveryConfig configures the AI-processing recovery module. It carries
// its own retry cap because AI bookkeeping is independent from the browser
// ledger.
type AIRecoveryConfig struct {
	MaxRetries          int           `mapstructure:"max_retries" yaml:"max_retries"`
	FallbackModels      []string      `mapstructure:"fallback_models" yaml:"fallback_models"`
	DegradedModeEnabled bool          `mapstructure:"degraded_mode_enabled" yaml:"degraded_mode_enabled"`
	CacheEnabled        bool          `mapstructure:"cache_enabled" yaml:"cache_enabled"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// BrowserConfig holds settings for the driven browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// AuthProbeScript is a JS expression evaluated in the page that must
	// return a boolean authentication status.
	AuthProbeScript string `mapstructure:"auth_probe_script" yaml:"auth_probe_script"`
	// AuthRefreshURL, when set, is loaded to perform a silent token refresh.
	AuthRefreshURL string `mapstructure:"auth_refresh_url" yaml:"auth_refresh_url"`
}

// LLMConfig holds the AI model connection details.
type LLMConfig struct {
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Model             string        `mapstructure:"model" yaml:"model"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	TopP              float32       `mapstructure:"top_p" yaml:"top_p"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// CacheConfig selects the AI response cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	RedisURL      string        `mapstructure:"redis_url" yaml:"redis_url"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"-"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries    int           `mapstructure:"max_entries" yaml:"max_entries"`
}

// setDefaults registers every default on the given viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "sabi")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("recovery.max_retries", 3)
	v.SetDefault("recovery.retry_delay", "1s")
	v.SetDefault("recovery.history_limit", 500)
	v.SetDefault("recovery.browser.fallback_selectors_enabled", true)
	v.SetDefault("recovery.browser.screenshot_analysis_enabled", true)
	v.SetDefault("recovery.browser.adaptive_selectors_enabled", true)
	v.SetDefault("recovery.ai.max_retries", 3)
	v.SetDefault("recovery.ai.degraded_mode_enabled", true)
	v.SetDefault("recovery.ai.cache_enabled", true)
	v.SetDefault("recovery.ai.timeout", "30s")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.action_timeout", "30s")

	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.requests_per_minute", 30)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.max_entries", 256)
}

// Load reads configuration from the optional file path, environment
// variables (SABI_ prefix) and the built-in defaults, in that precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SABI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without touching files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly; ignore the impossible error.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate rejects configurations the recovery core cannot operate under.
func (c *Config) Validate() error {
	if c.Recovery.MaxRetries < 1 {
		return fmt.Errorf("recovery.max_retries must be at least 1, got %d", c.Recovery.MaxRetries)
	}
	if c.Recovery.RetryDelay < 0 {
		return fmt.Errorf("recovery.retry_delay must not be negative")
	}
	if c.Recovery.AI.MaxRetries < 1 {
		return fmt.Errorf("recovery.ai.max_retries must be at least 1, got %d", c.Recovery.AI.MaxRetries)
	}
	switch c.Cache.Backend {
	case "", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("unknown cache backend %q (expected memory or redis)", c.Cache.Backend)
	}
	return nil
}
