// Package reconcile matches incoming snapshot batches to catalog records.
// Identity is resolved by external locator first, then by team-name pair:
// inside a time window around the scheduled kickoff for matches not yet
// live, unconstrained for live matches whose original schedule is no longer
// authoritative.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// Result describes what one batch did to the catalog.
type Result struct {
	// SeenIDs are the catalog ids present in this batch, for presence
	// tracking across cycles.
	SeenIDs []int64

	// Repriced are matches whose base prices or scraped markets changed and
	// need a derived-odds recompute.
	Repriced []int64

	// Finalized are matches the source itself reported finished this batch.
	Finalized []int64

	Created int
	Updated int
	Skipped int
}

// Reconciler applies snapshot batches to the catalog store.
type Reconciler struct {
	matches domain.MatchStore
	teams   domain.TeamStore
	quotes  domain.QuoteStore
	markets domain.MarketStore

	source string        // quote source label, one PriceQuote row per (match, source)
	window time.Duration // identity window around scheduled kickoff

	logger *slog.Logger
}

// New creates a Reconciler writing quotes under the given source label.
func New(
	matches domain.MatchStore,
	teams domain.TeamStore,
	quotes domain.QuoteStore,
	markets domain.MarketStore,
	source string,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		matches: matches,
		teams:   teams,
		quotes:  quotes,
		markets: markets,
		source:  source,
		window:  time.Hour,
		logger:  logger.With(slog.String("component", "reconciler")),
	}
}

// Reconcile resolves every record in the batch to a catalog match, creating
// records on first sighting and refreshing mutable state. A malformed record
// is skipped and logged; it never aborts the batch.
func (r *Reconciler) Reconcile(ctx context.Context, batch []domain.Snapshot) (Result, error) {
	var res Result
	if len(batch) == 0 {
		return res, nil
	}

	teamIDs, err := r.upsertTeams(ctx, batch)
	if err != nil {
		return res, fmt.Errorf("reconcile: upsert teams: %w", err)
	}

	for _, snap := range batch {
		if !snap.Valid() {
			r.logger.WarnContext(ctx, "malformed snapshot skipped",
				slog.String("home", snap.HomeTeam),
				slog.String("away", snap.AwayTeam),
				slog.String("league", snap.League),
			)
			res.Skipped++
			continue
		}

		id, created, repriced, finalized, err := r.applyOne(ctx, snap, teamIDs)
		if err != nil {
			if errors.Is(err, domain.ErrAmbiguousIdentity) {
				r.logger.WarnContext(ctx, "ambiguous identity, snapshot dropped",
					slog.String("home", snap.HomeTeam),
					slog.String("away", snap.AwayTeam),
				)
				res.Skipped++
				continue
			}
			r.logger.ErrorContext(ctx, "snapshot failed",
				slog.String("home", snap.HomeTeam),
				slog.String("away", snap.AwayTeam),
				slog.String("error", err.Error()),
			)
			res.Skipped++
			continue
		}

		res.SeenIDs = append(res.SeenIDs, id)
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		if repriced {
			res.Repriced = append(res.Repriced, id)
		}
		if finalized {
			res.Finalized = append(res.Finalized, id)
		}
	}

	return res, nil
}

// upsertTeams collects every team name in the batch and resolves them to ids
// in one round trip.
func (r *Reconciler) upsertTeams(ctx context.Context, batch []domain.Snapshot) (map[string]int64, error) {
	seen := map[string]bool{}
	var names []string
	for _, s := range batch {
		for _, n := range []string{s.HomeTeam, s.AwayTeam} {
			if n != "" && !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return r.teams.UpsertNames(ctx, names)
}

func (r *Reconciler) applyOne(ctx context.Context, snap domain.Snapshot, teamIDs map[string]int64) (id int64, created, repriced, finalized bool, err error) {
	m, found, err := r.resolve(ctx, snap)
	if err != nil {
		return 0, false, false, false, err
	}

	if !found {
		m = domain.Match{
			HomeTeamID: teamIDs[snap.HomeTeam],
			AwayTeamID: teamIDs[snap.AwayTeam],
			HomeTeam:   snap.HomeTeam,
			AwayTeam:   snap.AwayTeam,
			MatchDate:  snap.KickoffAt,
			League:     snap.League,
			Status:     domain.MatchStatusUpcoming,
			MatchURL:   snap.MatchURL,
			ScrapedAt:  time.Now().UTC(),
		}
		if err := r.matches.Create(ctx, &m); err != nil {
			if !errors.Is(err, domain.ErrAlreadyExists) {
				return 0, false, false, false, err
			}
			// A concurrent reconciliation created the same identity between
			// our lookup and insert. Resolve again and fall through to the
			// update path: at most one row per identity.
			m, found, err = r.resolve(ctx, snap)
			if err != nil {
				return 0, false, false, false, err
			}
			if !found {
				return 0, false, false, false, fmt.Errorf("reconcile: lost race for %s vs %s and row vanished", snap.HomeTeam, snap.AwayTeam)
			}
		} else {
			created = true
		}
	}

	if m.Status.Terminal() {
		// Frozen; late snapshots for a finished match change nothing.
		return m.ID, created, false, false, nil
	}

	repriced, finalized, err = r.applyState(ctx, &m, snap)
	if err != nil {
		return 0, false, false, false, err
	}
	return m.ID, created, repriced, finalized, nil
}

// resolve finds the catalog row for a snapshot, in the stated preference
// order. found == false means the identity is genuinely new.
func (r *Reconciler) resolve(ctx context.Context, snap domain.Snapshot) (domain.Match, bool, error) {
	if snap.MatchURL != "" {
		m, err := r.matches.GetByURL(ctx, snap.MatchURL)
		if err == nil {
			return m, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Match{}, false, err
		}
	}

	kickoff := snap.KickoffAt
	m, err := r.matches.FindByTeams(ctx, snap.HomeTeam, snap.AwayTeam, &kickoff, r.window,
		[]domain.MatchStatus{domain.MatchStatusUpcoming})
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Match{}, false, err
	}

	// A live match may have drifted away from its scheduled time.
	m, err = r.matches.FindByTeams(ctx, snap.HomeTeam, snap.AwayTeam, nil, 0,
		[]domain.MatchStatus{domain.MatchStatusLive})
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Match{}, false, err
	}
	return domain.Match{}, false, nil
}

// applyState refreshes the mutable fields of a non-terminal match from a
// snapshot and persists quote and market data.
func (r *Reconciler) applyState(ctx context.Context, m *domain.Match, snap domain.Snapshot) (repriced, finalized bool, err error) {
	now := time.Now().UTC()

	if m.MatchURL == "" && snap.MatchURL != "" {
		m.MatchURL = snap.MatchURL
	}
	if snap.League != "" {
		m.League = snap.League
	}
	if snap.Minute != nil {
		m.Minute = snap.Minute
	}
	if snap.HomeScore != nil && snap.AwayScore != nil {
		m.HomeScore = snap.HomeScore
		m.AwayScore = snap.AwayScore
		if m.Status == domain.MatchStatusUpcoming {
			m.Status = domain.MatchStatusLive
		}
	}
	if snap.HTHomeScore != nil && snap.HTAwayScore != nil {
		m.HTHomeScore = snap.HTHomeScore
		m.HTAwayScore = snap.HTAwayScore
	}

	if snap.HomeOdds != nil && snap.DrawOdds != nil && snap.AwayOdds != nil {
		changed := m.HomeOdds == nil || *m.HomeOdds != *snap.HomeOdds ||
			m.DrawOdds == nil || *m.DrawOdds != *snap.DrawOdds ||
			m.AwayOdds == nil || *m.AwayOdds != *snap.AwayOdds
		m.HomeOdds, m.DrawOdds, m.AwayOdds = snap.HomeOdds, snap.DrawOdds, snap.AwayOdds
		if changed {
			repriced = true
		}
		if err := r.quotes.Upsert(ctx, domain.PriceQuote{
			MatchID:   m.ID,
			Source:    r.source,
			HomeOdds:  *snap.HomeOdds,
			DrawOdds:  *snap.DrawOdds,
			AwayOdds:  *snap.AwayOdds,
			ScrapedAt: now,
		}); err != nil {
			return false, false, fmt.Errorf("reconcile: quote for match %d: %w", m.ID, err)
		}
	}

	if len(snap.Markets) > 0 {
		if err := r.markets.UpsertForMatch(ctx, m.ID, snap.Markets); err != nil {
			return false, false, fmt.Errorf("reconcile: markets for match %d: %w", m.ID, err)
		}
		repriced = true
	}

	m.ScrapedAt = now
	if err := r.matches.UpdateState(ctx, *m); err != nil {
		return false, false, fmt.Errorf("reconcile: update match %d: %w", m.ID, err)
	}

	if snap.Finished {
		if err := r.matches.MarkFinished(ctx, m.ID); err != nil {
			return false, false, fmt.Errorf("reconcile: finish match %d: %w", m.ID, err)
		}
		finalized = true
	}

	return repriced, finalized, nil
}
