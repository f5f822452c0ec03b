// Package config loads daemon configuration from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the daemon configuration.
type Config struct {
	// DBPath is the BoltDB file location. Empty means a default under
	// the user data directory, resolved at startup.
	DBPath string `env:"WARDEN_DB_PATH"`

	// TickInterval between expiry sweeps.
	TickInterval time.Duration `env:"WARDEN_TICK_INTERVAL" envDefault:"15s"`

	// PlatformURL is the chat platform API base URL.
	PlatformURL string `env:"WARDEN_PLATFORM_URL,notEmpty"`

	// PlatformToken authenticates against the platform API.
	PlatformToken string `env:"WARDEN_PLATFORM_TOKEN"`

	// WebhookURL receives transition events. Empty disables the sink.
	WebhookURL string `env:"WARDEN_WEBHOOK_URL"`

	// MetricsAddr is the Prometheus listen address.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is "json" for production logs, anything else gets the
	// pretty console writer.
	LogFormat string `env:"LOG_FORMAT"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("WARDEN_TICK_INTERVAL must be positive")
	}
	return cfg, nil
}
