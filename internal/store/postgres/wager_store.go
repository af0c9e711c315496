package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// WagerStore implements domain.WagerStore using PostgreSQL. These are the
// non-transactional reads used outside settlement; settlement itself goes
// through SettlementStore.
type WagerStore struct {
	pool *pgxpool.Pool
}

// NewWagerStore creates a new WagerStore backed by the given connection pool.
func NewWagerStore(pool *pgxpool.Pool) *WagerStore {
	return &WagerStore{pool: pool}
}

const wagerCols = `id, user_id, match_id, bet_type, price, stake,
	potential_payout, status, created_at, settled_at`

func scanWager(row pgx.Row) (domain.Wager, error) {
	var w domain.Wager
	var betType, status string
	err := row.Scan(
		&w.ID, &w.UserID, &w.MatchID, &betType, &w.Price,
		&w.Stake, &w.PotentialPayout, &status, &w.CreatedAt, &w.SettledAt,
	)
	if err != nil {
		return domain.Wager{}, err
	}
	w.BetType = domain.BetType(betType)
	w.Status = domain.WagerStatus(status)
	return w, nil
}

// ListByMatch returns every wager on a match regardless of status.
func (s *WagerStore) ListByMatch(ctx context.Context, matchID int64) ([]domain.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerCols+` FROM wagers WHERE match_id = $1 ORDER BY created_at`,
		matchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers for match %d: %w", matchID, err)
	}
	defer rows.Close()
	return collectWagers(rows)
}

// ListSettledBefore returns wagers settled before the cutoff, for archival.
func (s *WagerStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerCols+` FROM wagers
		 WHERE status <> 'pending' AND settled_at < $1
		 ORDER BY settled_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled wagers: %w", err)
	}
	defer rows.Close()
	return collectWagers(rows)
}

// Reopen flips settled wagers and combination legs on a match back to
// pending so a corrected result can be settled again. Balances are not
// compensated here.
func (s *WagerStore) Reopen(ctx context.Context, matchID int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin reopen: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE wagers SET status = 'pending', settled_at = NULL
		 WHERE match_id = $1 AND status <> 'pending'`, matchID)
	if err != nil {
		return 0, fmt.Errorf("postgres: reopen wagers for match %d: %w", matchID, err)
	}
	reopened := tag.RowsAffected()

	legTag, err := tx.Exec(ctx,
		`UPDATE combination_legs SET status = 'pending'
		 WHERE match_id = $1 AND status <> 'pending'`, matchID)
	if err != nil {
		return 0, fmt.Errorf("postgres: reopen legs for match %d: %w", matchID, err)
	}
	reopened += legTag.RowsAffected()

	// Tickets owning a reopened leg go back to pending too.
	if _, err := tx.Exec(ctx,
		`UPDATE combination_wagers SET status = 'pending', settled_at = NULL
		 WHERE status <> 'pending'
		   AND id IN (SELECT combination_id FROM combination_legs WHERE match_id = $1)`,
		matchID); err != nil {
		return 0, fmt.Errorf("postgres: reopen combinations for match %d: %w", matchID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit reopen: %w", err)
	}
	return reopened, nil
}

func collectWagers(rows pgx.Rows) ([]domain.Wager, error) {
	var wagers []domain.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan wager: %w", err)
		}
		wagers = append(wagers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: wager rows: %w", err)
	}
	return wagers, nil
}
