package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Venue    VenueConfig    `mapstructure:"venue"`
	Session  SessionConfig  `mapstructure:"session"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// VenueConfig holds venue endpoints and credentials.
type VenueConfig struct {
	WSURL     string `mapstructure:"ws_url"`
	RESTURL   string `mapstructure:"rest_url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Category  string `mapstructure:"category"` // spot, linear, inverse
	Symbol    string `mapstructure:"symbol"`
}

// SessionConfig tunes the websocket session lifecycle.
type SessionConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleMultiplier   int           `mapstructure:"stale_multiplier"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// DatabaseConfig holds record store settings.
type DatabaseConfig struct {
	Path        string `mapstructure:"path"`
	WALMode     bool   `mapstructure:"wal_mode"`
	BusyTimeout int    `mapstructure:"busy_timeout"` // seconds
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level   string `mapstructure:"level"` // debug, info, warn, error
	Console bool   `mapstructure:"console"`
}

// Load reads configuration from a YAML file, applying defaults for
// anything the file leaves out.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("venue.category", "spot")
	v.SetDefault("session.heartbeat_interval", "20s")
	v.SetDefault("session.stale_multiplier", 2)
	v.SetDefault("session.dial_timeout", "10s")
	v.SetDefault("session.backoff_base", "500ms")
	v.SetDefault("session.backoff_max", "60s")
	v.SetDefault("session.max_retries", 10)
	v.SetDefault("database.path", "data/venuelink.db")
	v.SetDefault("database.wal_mode", true)
	v.SetDefault("database.busy_timeout", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Venue.WSURL == "" {
		return nil, fmt.Errorf("venue.ws_url is required")
	}
	return &cfg, nil
}
