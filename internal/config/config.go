// Package config loads the server configuration from a YAML file with
// environment variable overrides for the secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Listen        string `yaml:"listen"`
	DatabaseURL   string `yaml:"database_url"`
	MigrationsURL string `yaml:"migrations_url"`

	SMTP struct {
		Addr string `yaml:"addr"` // host:port, empty disables outbound mail
		From string `yaml:"from"`
	} `yaml:"smtp"`

	Citizen struct {
		ValidatorURL string        `yaml:"validator_url"` // loan system login check
		BookingURL   string        `yaml:"booking_url"`   // empty disables booking mode
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"citizen"`

	Retention struct {
		SecurityEventDays int `yaml:"security_event_days"`
		LoginLogDays      int `yaml:"login_log_days"`
	} `yaml:"retention"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Listen:        ":8080",
		MigrationsURL: "file://migrations",
	}
	cfg.Citizen.Timeout = 10 * time.Second
	cfg.Retention.SecurityEventDays = 365
	cfg.Retention.LoginLogDays = 90
	return cfg
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Listen = addr
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url not set (config file or DATABASE_URL)")
	}
	return cfg, nil
}

// EventRetention returns the security event retention window.
func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.Retention.SecurityEventDays) * 24 * time.Hour
}

// LoginLogRetention returns the login log retention window.
func (c *Config) LoginLogRetention() time.Duration {
	return time.Duration(c.Retention.LoginLogDays) * 24 * time.Hour
}
