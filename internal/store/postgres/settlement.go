package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL. Each
// transaction locks the match row first, then wager and leg rows in id order,
// then balance rows, so concurrent settlements of different matches cannot
// deadlock on shared combination tickets.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Begin opens a settlement transaction scoped to one match.
func (s *SettlementStore) Begin(ctx context.Context, matchID int64) (domain.SettlementTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin settlement: %w", err)
	}
	return &settlementTx{tx: tx, matchID: matchID}, nil
}

type settlementTx struct {
	tx      pgx.Tx
	matchID int64
}

// Match locks and returns the match row.
func (t *settlementTx) Match(ctx context.Context) (domain.Match, error) {
	// Lock the bare row first; the joined read that follows shares the
	// snapshot inside the transaction.
	if _, err := t.tx.Exec(ctx,
		`SELECT id FROM matches WHERE id = $1 FOR UPDATE`, t.matchID); err != nil {
		return domain.Match{}, fmt.Errorf("postgres: lock match %d: %w", t.matchID, err)
	}

	row := t.tx.QueryRow(ctx,
		`SELECT `+matchCols+matchFrom+` WHERE m.id = $1`, t.matchID)
	m, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, domain.ErrNotFound
		}
		return domain.Match{}, fmt.Errorf("postgres: load match %d: %w", t.matchID, err)
	}
	return m, nil
}

// PendingWagers locks and returns the pending single wagers on the match.
func (t *settlementTx) PendingWagers(ctx context.Context) ([]domain.Wager, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+wagerCols+` FROM wagers
		 WHERE match_id = $1 AND status = 'pending'
		 ORDER BY id
		 FOR UPDATE`, t.matchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: lock pending wagers: %w", err)
	}
	defer rows.Close()
	return collectWagers(rows)
}

// PendingLegs locks and returns the pending combination legs on the match.
func (t *settlementTx) PendingLegs(ctx context.Context) ([]domain.CombinationLeg, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, combination_id, match_id, bet_type, price, status
		 FROM combination_legs
		 WHERE match_id = $1 AND status = 'pending'
		 ORDER BY id
		 FOR UPDATE`, t.matchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: lock pending legs: %w", err)
	}
	defer rows.Close()
	return collectLegs(rows)
}

// SetWagerStatus settles one pending wager. Rows already settled are left
// untouched.
func (t *settlementTx) SetWagerStatus(ctx context.Context, id uuid.UUID, status domain.WagerStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE wagers SET status = $2, settled_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: settle wager %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settle wager %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetLegStatus settles one pending combination leg.
func (t *settlementTx) SetLegStatus(ctx context.Context, id int64, status domain.WagerStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE combination_legs SET status = $2
		 WHERE id = $1 AND status = 'pending'`, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: settle leg %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settle leg %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Combination locks the ticket row and reloads it with all of its legs.
func (t *settlementTx) Combination(ctx context.Context, id uuid.UUID) (domain.CombinationWager, []domain.CombinationLeg, error) {
	var c domain.CombinationWager
	var status string
	err := t.tx.QueryRow(ctx,
		`SELECT id, user_id, stake, total_price, potential_payout, status, created_at, settled_at
		 FROM combination_wagers
		 WHERE id = $1
		 FOR UPDATE`, id).Scan(
		&c.ID, &c.UserID, &c.Stake, &c.TotalPrice, &c.PotentialPayout,
		&status, &c.CreatedAt, &c.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CombinationWager{}, nil, domain.ErrNotFound
		}
		return domain.CombinationWager{}, nil, fmt.Errorf("postgres: lock combination %s: %w", id, err)
	}
	c.Status = domain.WagerStatus(status)

	rows, err := t.tx.Query(ctx,
		`SELECT id, combination_id, match_id, bet_type, price, status
		 FROM combination_legs
		 WHERE combination_id = $1
		 ORDER BY id`, id)
	if err != nil {
		return domain.CombinationWager{}, nil, fmt.Errorf("postgres: load legs for %s: %w", id, err)
	}
	defer rows.Close()

	legs, err := collectLegs(rows)
	if err != nil {
		return domain.CombinationWager{}, nil, err
	}
	return c, legs, nil
}

// SettleCombination finalizes a pending ticket with its recomputed price and
// payout.
func (t *settlementTx) SettleCombination(ctx context.Context, id uuid.UUID, status domain.WagerStatus, effectivePrice float64, payout decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE combination_wagers
		 SET status = $2, effective_price = $3, payout = $4, settled_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id, string(status), effectivePrice, payout)
	if err != nil {
		return fmt.Errorf("postgres: settle combination %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settle combination %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// CreditBalance adds amount to the user's balance, creating the row on first
// credit.
func (t *settlementTx) CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO balances (user_id, amount, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
			amount     = balances.amount + EXCLUDED.amount,
			updated_at = NOW()`, userID, amount)
	if err != nil {
		return fmt.Errorf("postgres: credit balance user %d: %w", userID, err)
	}
	return nil
}

func (t *settlementTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settlement: %w", err)
	}
	return nil
}

func (t *settlementTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func collectLegs(rows pgx.Rows) ([]domain.CombinationLeg, error) {
	var legs []domain.CombinationLeg
	for rows.Next() {
		var l domain.CombinationLeg
		var betType, status string
		if err := rows.Scan(&l.ID, &l.CombinationID, &l.MatchID, &betType, &l.Price, &status); err != nil {
			return nil, fmt.Errorf("postgres: scan leg: %w", err)
		}
		l.BetType = domain.BetType(betType)
		l.Status = domain.WagerStatus(status)
		legs = append(legs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: leg rows: %w", err)
	}
	return legs, nil
}
