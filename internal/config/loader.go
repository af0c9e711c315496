package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ODDSKEEPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ODDSKEEPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ODDSKEEPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ODDSKEEPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ODDSKEEPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ODDSKEEPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ODDSKEEPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ODDSKEEPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ODDSKEEPER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ODDSKEEPER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ODDSKEEPER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ODDSKEEPER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ODDSKEEPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ODDSKEEPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ODDSKEEPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ODDSKEEPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ODDSKEEPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ODDSKEEPER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ODDSKEEPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ODDSKEEPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "ODDSKEEPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ODDSKEEPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ODDSKEEPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ODDSKEEPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ODDSKEEPER_S3_FORCE_PATH_STYLE")

	// ── Source ──
	setStr(&cfg.Source.Kind, "ODDSKEEPER_SOURCE_KIND")
	setStr(&cfg.Source.Name, "ODDSKEEPER_SOURCE_NAME")
	setStr(&cfg.Source.URL, "ODDSKEEPER_SOURCE_URL")
	setDuration(&cfg.Source.Timeout, "ODDSKEEPER_SOURCE_TIMEOUT")
	setInt(&cfg.Source.RateLimit, "ODDSKEEPER_SOURCE_RATE_LIMIT")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "ODDSKEEPER_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.HeartbeatEvery, "ODDSKEEPER_MONITOR_HEARTBEAT_EVERY")
	setInt(&cfg.Monitor.CleanupEvery, "ODDSKEEPER_MONITOR_CLEANUP_EVERY")
	setDuration(&cfg.Monitor.StaleAfter, "ODDSKEEPER_MONITOR_STALE_AFTER")
	setInt(&cfg.Monitor.PresenceThreshold, "ODDSKEEPER_MONITOR_PRESENCE_THRESHOLD")
	setDuration(&cfg.Monitor.LockTTL, "ODDSKEEPER_MONITOR_LOCK_TTL")

	// ── Pricing ──
	setFloat64(&cfg.Pricing.Overround, "ODDSKEEPER_PRICING_OVERROUND")
	setFloat64(&cfg.Pricing.HandicapLine, "ODDSKEEPER_PRICING_HANDICAP_LINE")
	setFloat64(&cfg.Pricing.CorrectScoreMargin, "ODDSKEEPER_PRICING_CORRECT_SCORE_MARGIN")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ODDSKEEPER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ODDSKEEPER_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ODDSKEEPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ODDSKEEPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ODDSKEEPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ODDSKEEPER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ODDSKEEPER_MODE")
	setStr(&cfg.LogLevel, "ODDSKEEPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
