// Package config provides configuration loading using koanf.
// Precedence: environment variables over compiled defaults.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/nextchapter/internal/domain"
)

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	Log  LogConfig  `koanf:"log"`
	HTTP HTTPConfig `koanf:"http"`

	// Infrastructure configurations
	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`
	OTEL     OTELConfig     `koanf:"otel"`

	// Domain configurations
	Timeline TimelineConfig `koanf:"timeline"`
	Auth     AuthConfig     `koanf:"auth"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

// HTTPConfig holds the listener configuration.
type HTTPConfig struct {
	Port int `koanf:"port"`
	// TrustedProxyHops counts the reverse proxies that append to
	// X-Forwarded-For. Zero trusts only the peer address.
	TrustedProxyHops int `koanf:"trustedproxyhops"`
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Endpoint string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Table    string        `koanf:"table"`
	Timeout  time.Duration `koanf:"timeout"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string              `koanf:"addr"`
	Password domain.SecretString `koanf:"password"`
	DB       int                 `koanf:"db"`
	Timeout  time.Duration       `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint string `koanf:"endpoint"` // Empty disables OTLP export
}

// TimelineConfig names the zone and the two instants the timeline counts against.
type TimelineConfig struct {
	Zone      string `koanf:"zone"`
	Countdown string `koanf:"countdown"` // RFC 3339 instant of the next chapter
	Together  string `koanf:"together"`  // RFC 3339 instant the story began
}

// AuthConfig holds PIN session token configuration.
type AuthConfig struct {
	Secret string        `koanf:"secret"` // Secrets Manager id of the PEM signing key; unused locally
	TTL    time.Duration `koanf:"ttl"`
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
		DynamoDB: DynamoDBConfig{
			Table:   "documents",
			Timeout: domain.DynamoDBTimeout,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		AWS: AWSConfig{
			Region: "ap-northeast-1",
		},
		Timeline: TimelineConfig{
			Zone:      "Asia/Tokyo",
			Countdown: "2025-07-01T00:00:00+09:00",
			Together:  "2023-07-20T00:00:00+09:00",
		},
		Auth: AuthConfig{
			TTL: domain.SessionTokenLifetime,
		},
	}
}

// Load loads configuration following the precedence:
// 1. Environment variables (highest)
// 2. Compiled defaults (lowest)
//
// Required keys missing in prod cause startup failure. A timeline that does
// not parse is always a startup failure.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	// Delimiter: _ maps to . for nested config (TIMELINE_ZONE -> timeline.zone)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateRequired(cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.Timeline.Resolve(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	// In local environment, most fields have sensible defaults
	if cfg.Environment == "local" {
		return nil
	}

	if cfg.Environment == "prod" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
		if cfg.DynamoDB.Table == "" {
			return fmt.Errorf("%w: dynamodb.table", domain.ErrConfigRequired)
		}
		if cfg.Auth.Secret == "" {
			return fmt.Errorf("%w: auth.secret", domain.ErrConfigRequired)
		}
	}

	return nil
}

// Timeline is the parsed form of TimelineConfig.
type Timeline struct {
	Location  *time.Location
	Countdown time.Time
	Together  time.Time
}

// Resolve loads the zone and parses both instants.
func (t TimelineConfig) Resolve() (Timeline, error) {
	loc, err := time.LoadLocation(t.Zone)
	if err != nil {
		return Timeline{}, fmt.Errorf("%w: timeline.zone %q: %w", domain.ErrConfigInvalid, t.Zone, err)
	}
	countdown, err := time.Parse(time.RFC3339, t.Countdown)
	if err != nil {
		return Timeline{}, fmt.Errorf("%w: timeline.countdown %q: %w", domain.ErrConfigInvalid, t.Countdown, err)
	}
	together, err := time.Parse(time.RFC3339, t.Together)
	if err != nil {
		return Timeline{}, fmt.Errorf("%w: timeline.together %q: %w", domain.ErrConfigInvalid, t.Together, err)
	}
	return Timeline{Location: loc, Countdown: countdown, Together: together}, nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
