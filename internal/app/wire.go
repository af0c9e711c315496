package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/vborovik/oddskeeper/internal/blob/s3"
	"github.com/vborovik/oddskeeper/internal/cache/redis"
	"github.com/vborovik/oddskeeper/internal/config"
	"github.com/vborovik/oddskeeper/internal/domain"
	"github.com/vborovik/oddskeeper/internal/notify"
	"github.com/vborovik/oddskeeper/internal/source"
	"github.com/vborovik/oddskeeper/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MatchStore      domain.MatchStore
	TeamStore       domain.TeamStore
	QuoteStore      domain.QuoteStore
	MarketStore     domain.MarketStore
	WagerStore      domain.WagerStore
	SettlementStore domain.SettlementStore

	// Redis-backed coordination
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	Presence    domain.PresenceTracker

	// Snapshot feed (nil for modes that do not poll)
	Source domain.SnapshotSource

	// Cold storage (nil unless archiving is enabled)
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsSource returns true for modes that poll the snapshot feed.
func needsSource(mode string) bool {
	switch mode {
	case "monitor", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MatchStore = postgres.NewMatchStore(pool)
	deps.TeamStore = postgres.NewTeamStore(pool)
	deps.QuoteStore = postgres.NewQuoteStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.WagerStore = postgres.NewWagerStore(pool)
	deps.SettlementStore = postgres.NewSettlementStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Presence = redis.NewPresenceTracker(redisClient, cfg.Monitor.PresenceThreshold)

	// --- Snapshot source (only for modes that poll the feed) ---
	if needsSource(cfg.Mode) {
		var src domain.SnapshotSource
		switch cfg.Source.Kind {
		case "ws":
			ws := source.NewWSFeed(cfg.Source.Name, cfg.Source.URL)
			closers = append(closers, func() { _ = ws.Close() })
			src = ws
		default:
			src = source.NewClient(cfg.Source.Name, cfg.Source.URL, cfg.Source.Timeout.Duration)
		}
		if cfg.Source.RateLimit > 0 {
			src = source.Throttle(src, deps.RateLimiter, cfg.Source.RateLimit)
		}
		deps.Source = src
	}

	// --- S3 cold storage (only when archiving is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(writer, deps.MatchStore, deps.WagerStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
