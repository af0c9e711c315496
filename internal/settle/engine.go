package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// Summary is the outward signal of one settlement run: how many records were
// resolved and the per-user balance deltas, for the notification collaborator.
type Summary struct {
	MatchID        int64
	WagersWon      int
	WagersLost     int
	WagersRefunded int
	LegsResolved   int
	CombosResolved int
	UserDeltas     map[int64]decimal.Decimal
}

// Resolved returns the total number of single wagers settled.
func (s Summary) Resolved() int {
	return s.WagersWon + s.WagersLost + s.WagersRefunded
}

// MatchCorrector persists an amended match row ahead of a resettlement run.
type MatchCorrector interface {
	Update(ctx context.Context, m domain.Match) error
}

// Engine settles every pending wager and combination leg referencing a
// finished match. Re-invocation on an already-settled match is a no-op
// because only pending rows are ever selected and mutated.
type Engine struct {
	store   domain.SettlementStore
	wagers  domain.WagerStore
	matches MatchCorrector
	logger  *slog.Logger
}

// New creates a settlement engine. wagers and matches may be nil when the
// administrative correction path is not needed.
func New(store domain.SettlementStore, wagers domain.WagerStore, matches MatchCorrector, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		wagers:  wagers,
		matches: matches,
		logger:  logger.With(slog.String("component", "settle")),
	}
}

// SettleMatch resolves a finished match inside one transaction. Any failure
// rolls the whole transaction back; the match keeps its pending rows and is
// retried on the next cycle.
func (e *Engine) SettleMatch(ctx context.Context, matchID int64) (Summary, error) {
	summary := Summary{MatchID: matchID, UserDeltas: map[int64]decimal.Decimal{}}

	tx, err := e.store.Begin(ctx, matchID)
	if err != nil {
		return summary, fmt.Errorf("settle: begin for match %d: %w", matchID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m, err := tx.Match(ctx)
	if err != nil {
		return summary, fmt.Errorf("settle: lock match %d: %w", matchID, err)
	}

	var result domain.MatchResult
	refundAll := false
	switch m.Status {
	case domain.MatchStatusFinished:
		r, ok := m.Result()
		if !ok {
			// Finished without any observed score: nothing can be
			// adjudicated, so every pending wager is pushed.
			refundAll = true
		}
		result = r
	case domain.MatchStatusCanceled:
		refundAll = true
	default:
		return summary, fmt.Errorf("settle: match %d is %s: %w", matchID, m.Status, domain.ErrInvalidTransition)
	}

	credits := map[int64]decimal.Decimal{}
	addCredit := func(userID int64, amount decimal.Decimal) {
		credits[userID] = credits[userID].Add(amount)
	}

	// Single wagers.
	wagers, err := tx.PendingWagers(ctx)
	if err != nil {
		return summary, fmt.Errorf("settle: pending wagers for match %d: %w", matchID, err)
	}
	for _, w := range wagers {
		v := VerdictPush
		if !refundAll {
			v, err = Evaluate(w.BetType, result)
			if err != nil {
				// Unknown bet type: leave the row pending for manual review
				// rather than guessing a verdict.
				e.logger.ErrorContext(ctx, "wager not evaluable",
					slog.String("wager_id", w.ID.String()),
					slog.String("bet_type", string(w.BetType)),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		switch v {
		case VerdictWon:
			if err := tx.SetWagerStatus(ctx, w.ID, domain.WagerStatusWon); err != nil {
				return summary, fmt.Errorf("settle: wager %s: %w", w.ID, err)
			}
			addCredit(w.UserID, w.PotentialPayout)
			summary.WagersWon++
		case VerdictLost:
			if err := tx.SetWagerStatus(ctx, w.ID, domain.WagerStatusLost); err != nil {
				return summary, fmt.Errorf("settle: wager %s: %w", w.ID, err)
			}
			summary.WagersLost++
		case VerdictPush:
			if err := tx.SetWagerStatus(ctx, w.ID, domain.WagerStatusRefunded); err != nil {
				return summary, fmt.Errorf("settle: wager %s: %w", w.ID, err)
			}
			addCredit(w.UserID, w.Stake)
			summary.WagersRefunded++
		}
	}

	// Combination legs referencing this match.
	legs, err := tx.PendingLegs(ctx)
	if err != nil {
		return summary, fmt.Errorf("settle: pending legs for match %d: %w", matchID, err)
	}
	affected := map[uuid.UUID]bool{}
	for _, leg := range legs {
		v := VerdictPush
		if !refundAll {
			v, err = Evaluate(leg.BetType, result)
			if err != nil {
				e.logger.ErrorContext(ctx, "combination leg not evaluable",
					slog.Int64("leg_id", leg.ID),
					slog.String("bet_type", string(leg.BetType)),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		status := domain.WagerStatusRefunded
		switch v {
		case VerdictWon:
			status = domain.WagerStatusWon
		case VerdictLost:
			status = domain.WagerStatusLost
		}
		if err := tx.SetLegStatus(ctx, leg.ID, status); err != nil {
			return summary, fmt.Errorf("settle: leg %d: %w", leg.ID, err)
		}
		affected[leg.CombinationID] = true
		summary.LegsResolved++
	}

	// Re-check each affected ticket; settle the ones whose legs are all
	// resolved now. Deterministic order keeps lock acquisition stable across
	// concurrent settlements.
	comboIDs := make([]uuid.UUID, 0, len(affected))
	for id := range affected {
		comboIDs = append(comboIDs, id)
	}
	sort.Slice(comboIDs, func(i, j int) bool { return comboIDs[i].String() < comboIDs[j].String() })

	for _, id := range comboIDs {
		combo, comboLegs, err := tx.Combination(ctx, id)
		if err != nil {
			return summary, fmt.Errorf("settle: combination %s: %w", id, err)
		}
		if combo.Status != domain.WagerStatusPending {
			continue
		}
		price, resolved := domain.EffectivePrice(comboLegs)
		if !resolved {
			continue // other legs still pending on other matches
		}
		if price == 0 {
			if err := tx.SettleCombination(ctx, id, domain.WagerStatusLost, 0, decimal.Zero); err != nil {
				return summary, fmt.Errorf("settle: combination %s: %w", id, err)
			}
			summary.CombosResolved++
			continue
		}

		status := domain.WagerStatusWon
		if allRefunded(comboLegs) {
			status = domain.WagerStatusRefunded
		}
		payout := combo.Stake.Mul(decimal.NewFromFloat(price)).Round(2)
		if err := tx.SettleCombination(ctx, id, status, price, payout); err != nil {
			return summary, fmt.Errorf("settle: combination %s: %w", id, err)
		}
		addCredit(combo.UserID, payout)
		summary.CombosResolved++
	}

	// Balances last, in ascending user order, matching the global lock order.
	userIDs := make([]int64, 0, len(credits))
	for id := range credits {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })
	for _, userID := range userIDs {
		if err := tx.CreditBalance(ctx, userID, credits[userID]); err != nil {
			return summary, fmt.Errorf("settle: credit user %d: %w", userID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return summary, fmt.Errorf("settle: commit match %d: %w", matchID, err)
	}

	summary.UserDeltas = credits
	e.logger.InfoContext(ctx, "match settled",
		slog.Int64("match_id", matchID),
		slog.Int("wagers", summary.Resolved()),
		slog.Int("legs", summary.LegsResolved),
		slog.Int("combinations", summary.CombosResolved),
		slog.Int("users_credited", len(credits)),
	)
	return summary, nil
}

// Resettle reopens every settled wager on a match and runs settlement again.
// Used after an administrative score correction. The caller is responsible
// for compensating balances credited by the original run.
func (e *Engine) Resettle(ctx context.Context, matchID int64) (Summary, error) {
	if e.wagers == nil {
		return Summary{}, errors.New("settle: resettle requires a wager store")
	}
	reopened, err := e.wagers.Reopen(ctx, matchID)
	if err != nil {
		return Summary{}, fmt.Errorf("settle: reopen match %d: %w", matchID, err)
	}
	e.logger.InfoContext(ctx, "wagers reopened for resettlement",
		slog.Int64("match_id", matchID),
		slog.Int64("count", reopened),
	)
	return e.SettleMatch(ctx, matchID)
}

// Correct persists an amended final score for a terminal match and settles it
// again, adjudicating the reopened rows against the corrected result.
func (e *Engine) Correct(ctx context.Context, m domain.Match) (Summary, error) {
	if e.matches == nil {
		return Summary{}, errors.New("settle: correct requires a match store")
	}
	if !m.Status.Terminal() {
		return Summary{}, fmt.Errorf("settle: correct match %d is %s: %w", m.ID, m.Status, domain.ErrInvalidTransition)
	}
	if err := e.matches.Update(ctx, m); err != nil {
		return Summary{}, fmt.Errorf("settle: correct match %d: %w", m.ID, err)
	}
	return e.Resettle(ctx, m.ID)
}

func allRefunded(legs []domain.CombinationLeg) bool {
	for _, leg := range legs {
		if leg.Status != domain.WagerStatusRefunded {
			return false
		}
	}
	return len(legs) > 0
}
