package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vborovik/oddskeeper/internal/domain"
	"github.com/vborovik/oddskeeper/internal/monitor"
	"github.com/vborovik/oddskeeper/internal/pricing"
	"github.com/vborovik/oddskeeper/internal/reconcile"
	"github.com/vborovik/oddskeeper/internal/settle"
)

// archiveInterval is how often archive sweeps run in long-lived modes.
const archiveInterval = 24 * time.Hour

// pricingParams maps the operator-facing pricing knobs onto the full
// parameter set, keeping compiled-in defaults for everything unexposed.
func (a *App) pricingParams() pricing.Params {
	p := pricing.DefaultParams()
	if a.cfg.Pricing.Overround > 0 {
		p.Overround = a.cfg.Pricing.Overround
	}
	if a.cfg.Pricing.HandicapLine > 0 {
		p.HandicapLine = a.cfg.Pricing.HandicapLine
	}
	if a.cfg.Pricing.CorrectScoreMargin > 0 {
		p.CorrectScoreMargin = a.cfg.Pricing.CorrectScoreMargin
	}
	return p
}

// buildLoop assembles the reconciler, settlement engine, and monitor loop for
// the configured snapshot source.
func (a *App) buildLoop(deps *Dependencies) *monitor.Loop {
	recon := reconcile.New(
		deps.MatchStore,
		deps.TeamStore,
		deps.QuoteStore,
		deps.MarketStore,
		a.cfg.Source.Name,
		a.logger,
	)
	engine := settle.New(deps.SettlementStore, deps.WagerStore, deps.MatchStore, a.logger)

	return monitor.New(
		monitor.Config{
			Interval:       a.cfg.Monitor.Interval.Duration,
			HeartbeatEvery: a.cfg.Monitor.HeartbeatEvery,
			CleanupEvery:   a.cfg.Monitor.CleanupEvery,
			StaleAfter:     a.cfg.Monitor.StaleAfter.Duration,
		},
		deps.Source,
		recon,
		deps.MatchStore,
		deps.QuoteStore,
		deps.MarketStore,
		engine,
		deps.Presence,
		deps.Notifier,
		a.pricingParams(),
		a.logger,
	)
}

// acquireLoopLock takes the distributed monitor lock so only one process polls
// a given source at a time. Returns a release func; no-op when locking is
// disabled.
func (a *App) acquireLoopLock(ctx context.Context, locks domain.LockManager) (func(), error) {
	ttl := a.cfg.Monitor.LockTTL.Duration
	if ttl <= 0 {
		return func() {}, nil
	}
	unlock, err := locks.Acquire(ctx, "monitor:"+a.cfg.Source.Name, ttl)
	if err != nil {
		return nil, fmt.Errorf("app: acquire monitor lock: %w", err)
	}
	return unlock, nil
}

// MonitorMode runs the live polling loop until the context is cancelled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.String("source", a.cfg.Source.Name),
	)

	unlock, err := a.acquireLoopLock(ctx, deps.LockManager)
	if err != nil {
		return err
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)

	loop := a.buildLoop(deps)
	g.Go(func() error {
		return loop.Run(ctx)
	})

	return g.Wait()
}

// SettleMode is a one-shot sweep: settle every finished match that still has
// pending wagers or combination legs, then exit.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode")

	engine := settle.New(deps.SettlementStore, deps.WagerStore, deps.MatchStore, a.logger)

	matches, err := deps.MatchStore.ListFinishedUnsettled(ctx)
	if err != nil {
		return fmt.Errorf("app: list unsettled matches: %w", err)
	}
	if len(matches) == 0 {
		a.logger.InfoContext(ctx, "no unsettled matches")
		return nil
	}

	var failed int
	for _, m := range matches {
		sum, err := engine.SettleMatch(ctx, m.ID)
		if err != nil {
			failed++
			a.logger.ErrorContext(ctx, "settlement failed",
				slog.Int64("match_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.InfoContext(ctx, "match settled",
			slog.Int64("match_id", m.ID),
			slog.Int("won", sum.WagersWon),
			slog.Int("lost", sum.WagersLost),
			slog.Int("refunded", sum.WagersRefunded),
			slog.Int("combos", sum.CombosResolved),
		)
	}
	if failed > 0 {
		return fmt.Errorf("app: settle mode: %d of %d matches failed", failed, len(matches))
	}
	return nil
}

// runArchiveSweep moves settled history older than the retention window to
// object storage.
func (a *App) runArchiveSweep(ctx context.Context, deps *Dependencies) error {
	retention := a.cfg.Archive.RetentionDays
	if retention <= 0 {
		retention = 90
	}
	cutoff := time.Now().AddDate(0, 0, -retention)

	matches, err := deps.Archiver.ArchiveMatches(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive matches: %w", err)
	}
	wagers, err := deps.Archiver.ArchiveWagers(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive wagers: %w", err)
	}
	a.logger.InfoContext(ctx, "archive sweep complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("matches", matches),
		slog.Int64("wagers", wagers),
	)
	return nil
}

// ArchiveMode runs an archive sweep immediately, then once per day until the
// context is cancelled.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires archive.enabled")
	}
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	if err := a.runArchiveSweep(ctx, deps); err != nil {
		return err
	}

	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.runArchiveSweep(ctx, deps); err != nil {
				a.logger.ErrorContext(ctx, "archive sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// FullMode runs the monitor loop plus the daily archive sweep when archiving
// is enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.String("source", a.cfg.Source.Name),
		slog.Bool("archive", deps.Archiver != nil),
	)

	unlock, err := a.acquireLoopLock(ctx, deps.LockManager)
	if err != nil {
		return err
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)

	loop := a.buildLoop(deps)
	g.Go(func() error {
		return loop.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.ArchiveMode(ctx, deps)
		})
	}

	return g.Wait()
}
