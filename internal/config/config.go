// Package config defines the top-level configuration for the odds keeper and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ODDSKEEPER_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Source   SourceConfig   `toml:"source"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Pricing  PricingConfig  `toml:"pricing"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SourceConfig selects and parametrizes the snapshot feed.
type SourceConfig struct {
	// Kind is the transport: "http" polls URL each cycle, "ws" keeps a
	// streaming subscription.
	Kind string `toml:"kind"`

	// Name identifies the source in logs, quotes, and presence keys.
	Name string `toml:"name"`

	URL     string   `toml:"url"`
	Timeout duration `toml:"timeout"`

	// RateLimit caps fetches per minute across all processes sharing the
	// Redis instance; 0 disables throttling.
	RateLimit int `toml:"rate_limit"`
}

// MonitorConfig holds the live-loop cadence parameters.
type MonitorConfig struct {
	Interval       duration `toml:"interval"`
	HeartbeatEvery int      `toml:"heartbeat_every"`
	CleanupEvery   int      `toml:"cleanup_every"`
	StaleAfter     duration `toml:"stale_after"`

	// PresenceThreshold is the number of consecutive cycles a live match may
	// be missing before it is finalized.
	PresenceThreshold int `toml:"presence_threshold"`

	// LockTTL bounds the distributed loop lock; it must exceed one cycle.
	LockTTL duration `toml:"lock_ttl"`
}

// PricingConfig exposes the operator-adjustable pricing knobs. The model's
// internal rate tiers stay compiled in.
type PricingConfig struct {
	Overround          float64 `toml:"overround"`
	HandicapLine       float64 `toml:"handicap_line"`
	CorrectScoreMargin float64 `toml:"correct_score_margin"`
}

// ArchiveConfig holds cold-storage parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "oddskeeper",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "oddskeeper-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Source: SourceConfig{
			Kind:      "http",
			Name:      "oddsfeed",
			Timeout:   duration{30 * time.Second},
			RateLimit: 0,
		},
		Monitor: MonitorConfig{
			Interval:          duration{60 * time.Second},
			HeartbeatEvery:    10,
			CleanupEvery:      60,
			StaleAfter:        duration{48 * time.Hour},
			PresenceThreshold: 2,
			LockTTL:           duration{5 * time.Minute},
		},
		Pricing: PricingConfig{
			Overround:          0.95,
			HandicapLine:       1.5,
			CorrectScoreMargin: 1.3,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"settlement", "match_finalized", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"settle":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSourceKinds enumerates the accepted values for Source.Kind.
var validSourceKinds = map[string]bool{
	"http": true,
	"ws":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, settle, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 settings only matter when archiving is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
	}

	// Source settings are required for the modes that poll.
	needsSource := c.Mode == "monitor" || c.Mode == "full"
	if needsSource {
		if !validSourceKinds[strings.ToLower(c.Source.Kind)] {
			errs = append(errs, fmt.Sprintf("source: unknown kind %q (valid: http, ws)", c.Source.Kind))
		}
		if c.Source.URL == "" {
			errs = append(errs, "source: url must not be empty for mode "+c.Mode)
		}
		if c.Source.Name == "" {
			errs = append(errs, "source: name must not be empty")
		}
		if c.Source.RateLimit < 0 {
			errs = append(errs, "source: rate_limit must be >= 0")
		}
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be positive")
	}
	if c.Monitor.HeartbeatEvery < 1 {
		errs = append(errs, "monitor: heartbeat_every must be >= 1")
	}
	if c.Monitor.PresenceThreshold < 1 {
		errs = append(errs, "monitor: presence_threshold must be >= 1")
	}
	if c.Monitor.LockTTL.Duration > 0 && c.Monitor.LockTTL.Duration <= c.Monitor.Interval.Duration {
		errs = append(errs, "monitor: lock_ttl must exceed the cycle interval")
	}

	// Pricing
	if c.Pricing.Overround <= 0 || c.Pricing.Overround > 1 {
		errs = append(errs, fmt.Sprintf("pricing: overround must be in (0, 1], got %g", c.Pricing.Overround))
	}
	if c.Pricing.HandicapLine <= 0 {
		errs = append(errs, "pricing: handicap_line must be positive")
	}
	if c.Pricing.CorrectScoreMargin < 1 {
		errs = append(errs, "pricing: correct_score_margin must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
