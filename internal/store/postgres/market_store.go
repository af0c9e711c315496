package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Markets are
// stored per match as (market, outcome, price) rows and replaced wholesale on
// each upsert, since a snapshot always carries the full current set.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// UpsertForMatch replaces the scraped market set for a match.
func (s *MarketStore) UpsertForMatch(ctx context.Context, matchID int64, markets []domain.MarketSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin market upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM match_markets WHERE match_id = $1`, matchID); err != nil {
		return fmt.Errorf("postgres: clear markets for match %d: %w", matchID, err)
	}

	const insertMarket = `
		INSERT INTO match_markets (match_id, name, updated_at)
		VALUES ($1, $2, NOW())
		RETURNING id`
	const insertOutcome = `
		INSERT INTO market_outcomes (market_id, name, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (market_id, name) DO UPDATE SET price = EXCLUDED.price`

	for _, m := range markets {
		var marketID int64
		if err := tx.QueryRow(ctx, insertMarket, matchID, m.Name).Scan(&marketID); err != nil {
			return fmt.Errorf("postgres: insert market %q: %w", m.Name, err)
		}

		batch := &pgx.Batch{}
		for _, o := range m.Outcomes {
			batch.Queue(insertOutcome, marketID, o.Name, o.Price)
		}
		br := tx.SendBatch(ctx, batch)
		for range m.Outcomes {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert outcome for market %q: %w", m.Name, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: insert outcomes for market %q: %w", m.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit market upsert: %w", err)
	}
	return nil
}

// ListForMatch returns the current scraped market set for a match.
func (s *MarketStore) ListForMatch(ctx context.Context, matchID int64) ([]domain.MarketSnapshot, error) {
	const query = `
		SELECT mm.name, mo.name, mo.price
		FROM match_markets mm
		JOIN market_outcomes mo ON mo.market_id = mm.id
		WHERE mm.match_id = $1
		ORDER BY mm.id, mo.id`

	rows, err := s.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets for match %d: %w", matchID, err)
	}
	defer rows.Close()

	var markets []domain.MarketSnapshot
	for rows.Next() {
		var marketName, outcomeName string
		var price float64
		if err := rows.Scan(&marketName, &outcomeName, &price); err != nil {
			return nil, fmt.Errorf("postgres: scan market outcome: %w", err)
		}
		if len(markets) == 0 || markets[len(markets)-1].Name != marketName {
			markets = append(markets, domain.MarketSnapshot{Name: marketName})
		}
		last := &markets[len(markets)-1]
		last.Outcomes = append(last.Outcomes, domain.OutcomeSnapshot{Name: outcomeName, Price: price})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}
