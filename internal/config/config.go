package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	libconfig "parkgate/libs/config"
)

// Defaults carried over from the original deployment: warnings every five
// minutes, status sync every 10s, full cache sync every 50s, 0.16 per
// parked minute with a five minute warning window.
const (
	defaultWarningSweepSeconds = 300
	defaultStatusSyncSeconds   = 10
	defaultFullSyncSeconds     = 50
	defaultWarningWindowMin    = 5
	defaultPricePerMinute      = "0.16"
	defaultTokenTTLSeconds     = 3600
)

// Config defines parking service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"PARKGATE_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN         string `yaml:"dsn" env:"PARKGATE_POSTGRES_DSN"`
		AutoMigrate bool   `yaml:"autoMigrate" env:"PARKGATE_AUTO_MIGRATE"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"PARKGATE_REDIS_ADDR"`
		Password string `yaml:"password" env:"PARKGATE_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"PARKGATE_REDIS_DB"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret       string `yaml:"jwtSecret" env:"PARKGATE_JWT_SECRET"`
		TokenTTLSeconds int    `yaml:"tokenTtlSeconds" env:"PARKGATE_TOKEN_TTL"`
	} `yaml:"auth"`
	Billing struct {
		PricePerMinute string `yaml:"pricePerMinute" env:"PARKGATE_PRICE_PER_MINUTE"`
	} `yaml:"billing"`
	Sweeps struct {
		WarningSeconds       int `yaml:"warningSeconds" env:"PARKGATE_WARNING_SWEEP_SECONDS"`
		StatusSyncSeconds    int `yaml:"statusSyncSeconds" env:"PARKGATE_STATUS_SYNC_SECONDS"`
		FullSyncSeconds      int `yaml:"fullSyncSeconds" env:"PARKGATE_FULL_SYNC_SECONDS"`
		WarningWindowMinutes int `yaml:"warningWindowMinutes" env:"PARKGATE_WARNING_WINDOW_MINUTES"`
		Concurrency          int `yaml:"concurrency" env:"PARKGATE_SWEEP_CONCURRENCY"`
	} `yaml:"sweeps"`
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Database.AutoMigrate = true
	cfg.Auth.TokenTTLSeconds = defaultTokenTTLSeconds
	cfg.Billing.PricePerMinute = defaultPricePerMinute
	cfg.Sweeps.WarningSeconds = defaultWarningSweepSeconds
	cfg.Sweeps.StatusSyncSeconds = defaultStatusSyncSeconds
	cfg.Sweeps.FullSyncSeconds = defaultFullSyncSeconds
	cfg.Sweeps.WarningWindowMinutes = defaultWarningWindowMin

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return nil, errors.New("config: redis addr required")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("config: jwt secret required")
	}
	if _, err := cfg.PricePerMinute(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// PricePerMinute parses the configured per-minute price.
func (c *Config) PricePerMinute() (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(c.Billing.PricePerMinute))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: parse price per minute: %w", err)
	}
	if price.IsNegative() {
		return decimal.Zero, errors.New("config: price per minute must not be negative")
	}
	return price, nil
}

// TokenTTL returns JWT lifetime.
func (c *Config) TokenTTL() time.Duration {
	if c.Auth.TokenTTLSeconds <= 0 {
		return time.Duration(defaultTokenTTLSeconds) * time.Second
	}
	return time.Duration(c.Auth.TokenTTLSeconds) * time.Second
}

// WarningSweepInterval returns the expiry-warning job cadence.
func (c *Config) WarningSweepInterval() time.Duration {
	return secondsOrDefault(c.Sweeps.WarningSeconds, defaultWarningSweepSeconds)
}

// StatusSyncInterval returns the migration job cadence.
func (c *Config) StatusSyncInterval() time.Duration {
	return secondsOrDefault(c.Sweeps.StatusSyncSeconds, defaultStatusSyncSeconds)
}

// FullSyncInterval returns the cache drain job cadence.
func (c *Config) FullSyncInterval() time.Duration {
	return secondsOrDefault(c.Sweeps.FullSyncSeconds, defaultFullSyncSeconds)
}

// WarningWindow returns how close to expiry a session must be to get warned.
func (c *Config) WarningWindow() time.Duration {
	if c.Sweeps.WarningWindowMinutes <= 0 {
		return defaultWarningWindowMin * time.Minute
	}
	return time.Duration(c.Sweeps.WarningWindowMinutes) * time.Minute
}

func secondsOrDefault(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}
