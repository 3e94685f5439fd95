package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Cache    CacheConfig    `yaml:"cache"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Grading  GradingConfig  `yaml:"grading"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log"`
}

// ProviderConfig holds market-data provider settings
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ExchangeSuffix string        `yaml:"exchange_suffix"` // appended to bare tickers, e.g. ".JK"
	RateLimit      int           `yaml:"rate_limit"`      // requests per minute
	Timeout        time.Duration `yaml:"timeout"`
	BreakerTrips   uint32        `yaml:"breaker_trips"` // consecutive failures before the breaker opens; 0 disables
	BreakerCool    time.Duration `yaml:"breaker_cooldown"`
}

// CacheConfig holds fetch cache settings
type CacheConfig struct {
	Backend  string        `yaml:"backend"` // memory, redis, none
	TTL      time.Duration `yaml:"ttl"`
	RedisURL string        `yaml:"redis_url"`
}

// ScannerConfig holds pipeline settings
type ScannerConfig struct {
	Workers       int           `yaml:"workers"`
	Timeout       time.Duration `yaml:"timeout"`        // whole run, raised to fit the rate limit; 0 = unbounded
	SymbolTimeout time.Duration `yaml:"symbol_timeout"` // single fetch
	Lookback      int           `yaml:"lookback"`       // trading days
	ATRWindow     int           `yaml:"atr_window"`
	VolumeWindow  int           `yaml:"volume_window"`
	SortBy        string        `yaml:"sort_by"`
	Universe      string        `yaml:"universe"`
}

// GradingConfig selects a named grading policy, optionally with overridden thresholds
type GradingConfig struct {
	Policy    string     `yaml:"policy"`
	Overrides *Threshold `yaml:"overrides,omitempty"`
}

// Threshold mirrors the engine's grading thresholds for YAML overrides
type Threshold struct {
	AChange      float64 `yaml:"a_change"`
	AVol         float64 `yaml:"a_vol"`
	AVolumeRatio float64 `yaml:"a_volume_ratio"`
	BChange      float64 `yaml:"b_change"`
	BVol         float64 `yaml:"b_vol"`
}

// WebConfig holds dashboard settings
type WebConfig struct {
	Port            int           `yaml:"port"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Timezone        string        `yaml:"timezone"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:        "https://query1.finance.yahoo.com/v8/finance/chart",
			ExchangeSuffix: ".JK",
			RateLimit:      60,
			Timeout:        30 * time.Second,
			BreakerTrips:   20,
			BreakerCool:    30 * time.Second,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     60 * time.Second,
		},
		Scanner: ScannerConfig{
			Workers:       8,
			Timeout:       5 * time.Minute,
			SymbolTimeout: 15 * time.Second,
			Lookback:      20, // ~1 month of trading days
			ATRWindow:     14,
			VolumeWindow:  14,
			SortBy:        "atr",
			Universe:      "idx-watchlist",
		},
		Grading: GradingConfig{
			Policy: "momentum",
		},
		Web: WebConfig{
			Port:            8080,
			RefreshInterval: 30 * time.Second,
			Timezone:        "Asia/Jakarta",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file, then applies .env and environment overrides
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SCREENER_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("SCREENER_REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("SCREENER_POLICY"); v != "" {
		c.Grading.Policy = v
	}
	if v := os.Getenv("SCREENER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SCREENER_EXCHANGE_SUFFIX"); v != "" {
		c.Provider.ExchangeSuffix = v
	}
	if v := os.Getenv("SCREENER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCREENER_PORT: %w", err)
		}
		c.Web.Port = port
	}
	if v := os.Getenv("SCREENER_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCREENER_CACHE_TTL: %w", err)
		}
		c.Cache.TTL = ttl
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Scanner.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Scanner.Lookback < 2 {
		return fmt.Errorf("lookback must be at least 2 trading days")
	}
	if c.Scanner.ATRWindow < 1 || c.Scanner.VolumeWindow < 1 {
		return fmt.Errorf("atr_window and volume_window must be at least 1")
	}
	if c.Scanner.Timeout < 0 {
		return fmt.Errorf("scanner timeout must not be negative")
	}
	if c.Scanner.SymbolTimeout <= 0 {
		return fmt.Errorf("symbol_timeout must be positive")
	}
	if c.Provider.RateLimit < 1 {
		return fmt.Errorf("rate_limit must be at least 1")
	}
	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache backend redis requires redis_url")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}
	if c.Cache.Backend != "none" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Web.RefreshInterval < time.Second {
		return fmt.Errorf("refresh_interval must be at least 1s")
	}
	return nil
}
