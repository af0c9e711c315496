// Package monitor runs the polling cycle: fetch one snapshot batch, reconcile
// it, recompute derived prices for changed matches, then settle anything that
// finalized. Within a cycle those phases run strictly in that order; the stop
// signal is only checked between cycles, so in-flight work always completes.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vborovik/oddskeeper/internal/domain"
	"github.com/vborovik/oddskeeper/internal/pricing"
	"github.com/vborovik/oddskeeper/internal/reconcile"
	"github.com/vborovik/oddskeeper/internal/settle"
)

// Notifier is the outward signal sink for settlement summaries. Satisfied by
// notify.Notifier; nil-able for tests.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the loop cadence parameters.
type Config struct {
	// Interval is the fixed delay between cycles.
	Interval time.Duration

	// HeartbeatEvery logs a liveness line every N cycles even when nothing
	// changed.
	HeartbeatEvery int

	// CleanupEvery runs stale-upcoming cleanup every N cycles; 0 disables.
	CleanupEvery int

	// StaleAfter is how long an upcoming match may go unseen before cleanup
	// removes it.
	StaleAfter time.Duration
}

// Loop is the live monitor state machine.
type Loop struct {
	cfg      Config
	source   domain.SnapshotSource
	recon    *reconcile.Reconciler
	matches  domain.MatchStore
	quotes   domain.QuoteStore
	markets  domain.MarketStore
	engine   *settle.Engine
	presence domain.PresenceTracker
	notifier Notifier
	params   pricing.Params
	logger   *slog.Logger

	cycles int
}

// New wires a monitor loop. notifier may be nil.
func New(
	cfg Config,
	source domain.SnapshotSource,
	recon *reconcile.Reconciler,
	matches domain.MatchStore,
	quotes domain.QuoteStore,
	markets domain.MarketStore,
	engine *settle.Engine,
	presence domain.PresenceTracker,
	notifier Notifier,
	params pricing.Params,
	logger *slog.Logger,
) *Loop {
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 10
	}
	return &Loop{
		cfg:      cfg,
		source:   source,
		recon:    recon,
		matches:  matches,
		quotes:   quotes,
		markets:  markets,
		engine:   engine,
		presence: presence,
		notifier: notifier,
		params:   params,
		logger:   logger.With(slog.String("component", "monitor"), slog.String("source", source.Name())),
	}
}

// Run executes cycles until ctx is cancelled. The first cycle runs
// immediately; subsequent cycles follow the configured interval.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "monitor loop starting",
		slog.Duration("interval", l.cfg.Interval),
	)

	l.runCycle(ctx)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.InfoContext(ctx, "monitor loop stopped",
				slog.Int("cycles", l.cycles),
			)
			return ctx.Err()
		case <-ticker.C:
			l.runCycle(ctx)
		}
	}
}

// runCycle performs one full poll -> reconcile -> reprice -> settle pass.
// Every failure inside a cycle is scoped to one match or to the cycle itself
// and retried next time; nothing here is fatal to the loop.
func (l *Loop) runCycle(ctx context.Context) {
	l.cycles++

	batch, err := l.source.Fetch(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "snapshot fetch failed, retrying next cycle",
			slog.String("error", err.Error()),
		)
		return
	}

	res, err := l.recon.Reconcile(ctx, batch)
	if err != nil {
		l.logger.ErrorContext(ctx, "reconciliation failed",
			slog.String("error", err.Error()),
		)
		return
	}

	// Phase 2: derived prices for matches whose inputs changed.
	for _, id := range res.Repriced {
		if err := l.reprice(ctx, id); err != nil {
			l.logger.WarnContext(ctx, "derived pricing kept previous values",
				slog.Int64("match_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	// Phase 3: disappearance detection and settlement.
	finalized := l.detectVanished(ctx, res.SeenIDs)
	finalized = append(finalized, res.Finalized...)
	l.settleDue(ctx, finalized)

	if l.cfg.CleanupEvery > 0 && l.cycles%l.cfg.CleanupEvery == 0 {
		l.cleanupStale(ctx)
	}

	if l.cycles%l.cfg.HeartbeatEvery == 0 {
		l.logger.InfoContext(ctx, "monitor heartbeat",
			slog.Int("cycle", l.cycles),
			slog.Int("batch", len(batch)),
			slog.Int("created", res.Created),
			slog.Int("updated", res.Updated),
			slog.Int("skipped", res.Skipped),
		)
	}
}

// reprice recomputes the derived-odds set for one match. A pricing error
// leaves previously stored prices untouched.
func (l *Loop) reprice(ctx context.Context, id int64) error {
	m, err := l.matches.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("monitor: load match: %w", err)
	}
	if !m.HasBaseOdds() {
		q, err := l.quotes.Latest(ctx, id)
		if err != nil {
			return fmt.Errorf("monitor: no base triplet: %w", err)
		}
		m.HomeOdds, m.DrawOdds, m.AwayOdds = &q.HomeOdds, &q.DrawOdds, &q.AwayOdds
	}

	markets, err := l.markets.ListForMatch(ctx, id)
	if err != nil {
		return fmt.Errorf("monitor: load markets: %w", err)
	}

	derived, err := pricing.Derive(pricing.Input{
		HomeOdds: *m.HomeOdds,
		DrawOdds: *m.DrawOdds,
		AwayOdds: *m.AwayOdds,
		Markets:  markets,
		Params:   l.params,
	})
	if err != nil {
		return err
	}

	if err := l.matches.UpdateDerived(ctx, id, l.params.HandicapLine, derived); err != nil {
		return fmt.Errorf("monitor: store derived odds: %w", err)
	}
	return nil
}

// detectVanished finalizes live matches missing from the source for two
// consecutive cycles and returns their ids.
func (l *Loop) detectVanished(ctx context.Context, seen []int64) []int64 {
	live, err := l.matches.ListByStatus(ctx, domain.MatchStatusLive)
	if err != nil {
		l.logger.ErrorContext(ctx, "list live matches failed",
			slog.String("error", err.Error()),
		)
		return nil
	}
	liveIDs := make([]int64, 0, len(live))
	for _, m := range live {
		liveIDs = append(liveIDs, m.ID)
	}

	vanished, err := l.presence.Observe(ctx, l.source.Name(), seen, liveIDs)
	if err != nil {
		l.logger.ErrorContext(ctx, "presence tracking failed",
			slog.String("error", err.Error()),
		)
		return nil
	}

	var finalized []int64
	for _, id := range vanished {
		if err := l.matches.MarkFinished(ctx, id); err != nil {
			l.logger.ErrorContext(ctx, "finalize vanished match failed",
				slog.Int64("match_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		_ = l.presence.Forget(ctx, l.source.Name(), id)
		l.logger.InfoContext(ctx, "match finalized after two missing cycles",
			slog.Int64("match_id", id),
		)
		if l.notifier != nil {
			msg := fmt.Sprintf("match %d finalized after vanishing from %s", id, l.source.Name())
			if err := l.notifier.Notify(ctx, "match_finalized", "Match finalized", msg); err != nil {
				l.logger.WarnContext(ctx, "finalization notification failed",
					slog.String("error", err.Error()),
				)
			}
		}
		finalized = append(finalized, id)
	}
	return finalized
}

// settleDue runs settlement for the freshly finalized matches plus any
// finished match still carrying pending wagers from an earlier failed run.
func (l *Loop) settleDue(ctx context.Context, finalized []int64) {
	due := map[int64]bool{}
	for _, id := range finalized {
		due[id] = true
	}
	unsettled, err := l.matches.ListFinishedUnsettled(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "list unsettled matches failed",
			slog.String("error", err.Error()),
		)
	} else {
		for _, m := range unsettled {
			due[m.ID] = true
		}
	}

	for id := range due {
		summary, err := l.engine.SettleMatch(ctx, id)
		if err != nil {
			l.logger.ErrorContext(ctx, "settlement failed, will retry",
				slog.Int64("match_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if summary.Resolved() == 0 && summary.CombosResolved == 0 {
			continue
		}
		if l.notifier != nil {
			msg := fmt.Sprintf("match %d: %d wagers resolved (%d won, %d lost, %d refunded), %d combinations, %d users credited",
				id, summary.Resolved(), summary.WagersWon, summary.WagersLost, summary.WagersRefunded,
				summary.CombosResolved, len(summary.UserDeltas))
			if err := l.notifier.Notify(ctx, "settlement", "Match settled", msg); err != nil {
				l.logger.WarnContext(ctx, "settlement notification failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (l *Loop) cleanupStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-l.cfg.StaleAfter)
	removed, err := l.matches.DeleteStaleUpcoming(ctx, cutoff)
	if err != nil {
		l.logger.ErrorContext(ctx, "stale cleanup failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if removed > 0 {
		l.logger.InfoContext(ctx, "stale upcoming matches removed",
			slog.Int64("count", removed),
		)
	}
}
