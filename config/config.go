// Package config holds the application configuration. Defaults are defined
// here, optionally overlaid by a YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/cache"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/hub"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/providers"
)

// Duration wraps time.Duration so YAML values can be written as "30s", "5m".
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the single source of truth for all configuration options.
type Config struct {
	Port string `yaml:"port"` // Server port

	// Cache tuning
	CacheMaxEntries      int      `yaml:"cacheMaxEntries"`
	CacheCleanupInterval Duration `yaml:"cacheCleanupInterval"`
	CacheStaleRetention  Duration `yaml:"cacheStaleRetention"`

	// Hub tuning
	HubFlushInterval Duration `yaml:"hubFlushInterval"`
	HubSweepInterval Duration `yaml:"hubSweepInterval"`
	HubIdleTimeout   Duration `yaml:"hubIdleTimeout"`
	HubQueueLimit    int      `yaml:"hubQueueLimit"`

	// Provider polling
	PollInterval Duration `yaml:"pollInterval"`
	CacheTTL     Duration `yaml:"cacheTTL"`
	Coins        []string `yaml:"coins"`
	MockMode     bool     `yaml:"mockMode"`

	// Upstream credentials; only settable from the environment.
	CoinGeckoAPIKey  string `yaml:"-"`
	CryptoPanicToken string `yaml:"-"`
}

// New creates a Config with the defaults.
func New() *Config {
	return &Config{
		Port: "8080",

		CacheMaxEntries:      10000,
		CacheCleanupInterval: Duration(5 * time.Minute),
		CacheStaleRetention:  Duration(1 * time.Hour),

		HubFlushInterval: Duration(100 * time.Millisecond),
		HubSweepInterval: Duration(30 * time.Second),
		HubIdleTimeout:   Duration(5 * time.Minute),
		HubQueueLimit:    1000,

		PollInterval: Duration(30 * time.Second),
		CacheTTL:     Duration(25 * time.Second),
		Coins:        []string{"bitcoin", "ethereum", "solana"},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (when set), then environment overrides.
func Load() (*Config, error) {
	cfg := New()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	cfg.CoinGeckoAPIKey = os.Getenv("COINGECKO_API_KEY")
	cfg.CryptoPanicToken = os.Getenv("CRYPTOPANIC_TOKEN")
	if os.Getenv("MOCK_MODE") == "true" {
		cfg.MockMode = true
	}

	return cfg, nil
}

// CacheConfig maps the relevant options onto the cache package config.
func (c *Config) CacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.MaxEntries = c.CacheMaxEntries
	cfg.CleanupInterval = c.CacheCleanupInterval.Std()
	cfg.StaleRetention = c.CacheStaleRetention.Std()
	return cfg
}

// HubConfig maps the relevant options onto the hub package config.
func (c *Config) HubConfig() hub.Config {
	cfg := hub.DefaultConfig()
	cfg.FlushInterval = c.HubFlushInterval.Std()
	cfg.SweepInterval = c.HubSweepInterval.Std()
	cfg.IdleTimeout = c.HubIdleTimeout.Std()
	cfg.QueueLimit = c.HubQueueLimit
	return cfg
}

// ProviderConfig maps the relevant options onto the providers package config.
func (c *Config) ProviderConfig() providers.Config {
	cfg := providers.DefaultConfig()
	cfg.MockMode = c.MockMode
	cfg.CoinGeckoAPIKey = c.CoinGeckoAPIKey
	cfg.CryptoPanicToken = c.CryptoPanicToken
	cfg.PollInterval = c.PollInterval.Std()
	cfg.CacheTTL = c.CacheTTL.Std()
	if len(c.Coins) > 0 {
		cfg.Coins = c.Coins
	}
	return cfg
}
