// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration, populated from RPWA_* variables
// with the defaults below.
type Config struct {
	Addr   string `env:"RPWA_ADDR" envDefault:":8080"`
	DBPath string `env:"RPWA_DB_PATH" envDefault:"rpwa.db"`

	APIBaseURL   string `env:"RPWA_API_BASE_URL" envDefault:"https://www.reddit.com"`
	UserAgent    string `env:"RPWA_USER_AGENT" envDefault:"rpwa-feed-cache/1.0"`
	ListingLimit int    `env:"RPWA_LISTING_LIMIT" envDefault:"25"`

	QuotaCap           int           `env:"RPWA_QUOTA_CAP" envDefault:"60"`
	QuotaWindow        time.Duration `env:"RPWA_QUOTA_WINDOW" envDefault:"1m"`
	MinRequestInterval time.Duration `env:"RPWA_MIN_REQUEST_INTERVAL" envDefault:"1s"`

	FetchTimeout   time.Duration `env:"RPWA_FETCH_TIMEOUT" envDefault:"15s"`
	MaxRetries     int           `env:"RPWA_MAX_RETRIES" envDefault:"3"`
	InitialBackoff time.Duration `env:"RPWA_INITIAL_BACKOFF" envDefault:"2s"`
	BackoffCap     time.Duration `env:"RPWA_BACKOFF_CAP" envDefault:"30s"`

	StorageQuotaBytes int64 `env:"RPWA_STORAGE_QUOTA_BYTES" envDefault:"52428800"`

	DrainInterval       time.Duration `env:"RPWA_DRAIN_INTERVAL" envDefault:"30s"`
	HousekeepInterval   time.Duration `env:"RPWA_HOUSEKEEP_INTERVAL" envDefault:"10m"`
	UpdateCheckInterval time.Duration `env:"RPWA_UPDATE_CHECK_INTERVAL" envDefault:"1h"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}
