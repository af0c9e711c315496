package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchStore persists the match catalog.
type MatchStore interface {
	// Create inserts a new match and fills in its ID. It returns
	// ErrAlreadyExists when another writer created the same identity first.
	Create(ctx context.Context, m *Match) error
	Update(ctx context.Context, m Match) error
	GetByID(ctx context.Context, id int64) (Match, error)

	// GetByURL resolves the external locator against live and upcoming rows.
	GetByURL(ctx context.Context, url string) (Match, error)

	// FindByTeams resolves a case-insensitive team-name pair. When around is
	// non-nil the scheduled time must fall within +-window of it; a nil
	// around matches any scheduled time (used for already-live matches).
	FindByTeams(ctx context.Context, home, away string, around *time.Time, window time.Duration, statuses []MatchStatus) (Match, error)

	// UpdateState refreshes the mutable live fields (status, scores, minute,
	// base triplet, scraped-at) without touching derived prices.
	UpdateState(ctx context.Context, m Match) error

	// UpdateDerived stores a freshly computed derived-price set.
	UpdateDerived(ctx context.Context, id int64, handicapLine float64, d DerivedOdds) error

	// MarkFinished freezes the match with its final scores. It is a no-op on
	// rows that are already terminal.
	MarkFinished(ctx context.Context, id int64) error

	ListByStatus(ctx context.Context, status MatchStatus) ([]Match, error)

	// ListFinishedUnsettled returns finished matches that still have pending
	// wagers or pending combination legs, i.e. settlement retry candidates.
	ListFinishedUnsettled(ctx context.Context) ([]Match, error)

	// DeleteStaleUpcoming removes upcoming matches not seen by any snapshot
	// since the cutoff and returns the number of rows removed.
	DeleteStaleUpcoming(ctx context.Context, unseenSince time.Time) (int64, error)

	// ListFinishedBefore returns finished matches whose last update precedes
	// the cutoff, for cold-storage archival.
	ListFinishedBefore(ctx context.Context, before time.Time) ([]Match, error)
}

// TeamStore maintains the team dictionary.
type TeamStore interface {
	// UpsertNames inserts any unseen names and returns name -> id for every
	// requested name.
	UpsertNames(ctx context.Context, names []string) (map[string]int64, error)
}

// QuoteStore persists per-source base triplets.
type QuoteStore interface {
	Upsert(ctx context.Context, q PriceQuote) error
	Latest(ctx context.Context, matchID int64) (PriceQuote, error)
}

// MarketStore persists scraped markets and outcomes for a match.
type MarketStore interface {
	UpsertForMatch(ctx context.Context, matchID int64, markets []MarketSnapshot) error
	ListForMatch(ctx context.Context, matchID int64) ([]MarketSnapshot, error)
}

// WagerStore provides the non-transactional wager reads used outside
// settlement (archival, retry detection, administrative reopen).
type WagerStore interface {
	ListByMatch(ctx context.Context, matchID int64) ([]Wager, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Wager, error)

	// Reopen flips settled wagers on a match back to pending so a corrected
	// result can be settled again. Balances are not compensated here; the
	// corrective flow is deliberately explicit.
	Reopen(ctx context.Context, matchID int64) (int64, error)
}

// SettlementTx is one all-or-nothing settlement transaction for a single
// match. Lock order is fixed: the match row first, then wager and leg rows,
// then balance rows. Implementations must roll back on any error.
type SettlementTx interface {
	// Match returns the locked match row.
	Match(ctx context.Context) (Match, error)

	PendingWagers(ctx context.Context) ([]Wager, error)
	PendingLegs(ctx context.Context) ([]CombinationLeg, error)

	SetWagerStatus(ctx context.Context, id uuid.UUID, status WagerStatus) error
	SetLegStatus(ctx context.Context, id int64, status WagerStatus) error

	// Combination returns the ticket with all of its legs reloaded.
	Combination(ctx context.Context, id uuid.UUID) (CombinationWager, []CombinationLeg, error)
	SettleCombination(ctx context.Context, id uuid.UUID, status WagerStatus, effectivePrice float64, payout decimal.Decimal) error

	CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SettlementStore opens settlement transactions.
type SettlementStore interface {
	Begin(ctx context.Context, matchID int64) (SettlementTx, error)
}

// SnapshotSource delivers one batch of snapshot records per poll. Records
// within a batch carry no ordering guarantee.
type SnapshotSource interface {
	Fetch(ctx context.Context) ([]Snapshot, error)
	Name() string
}

// PresenceTracker records which matches each cycle observed, so the monitor
// can finalize live matches that have vanished from the source for two
// consecutive cycles.
type PresenceTracker interface {
	// Observe registers the ids seen this cycle and bumps the miss counter of
	// every live id not in the batch. It returns the ids whose consecutive
	// miss count has reached the finalization threshold.
	Observe(ctx context.Context, source string, seen []int64, live []int64) ([]int64, error)

	// Forget drops tracking state for a match that left the live set.
	Forget(ctx context.Context, source string, id int64) error
}

// LockManager serializes monitor loops across processes: at most one active
// loop per snapshot source.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles outbound requests under a shared per-key budget.
type RateLimiter interface {
	// Allow reports whether one more request fits under the key's limit for
	// the window, counting it when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
