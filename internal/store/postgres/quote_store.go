package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// QuoteStore implements domain.QuoteStore using PostgreSQL.
type QuoteStore struct {
	pool *pgxpool.Pool
}

// NewQuoteStore creates a new QuoteStore backed by the given connection pool.
func NewQuoteStore(pool *pgxpool.Pool) *QuoteStore {
	return &QuoteStore{pool: pool}
}

// Upsert records the latest base triplet seen from one source for a match.
func (s *QuoteStore) Upsert(ctx context.Context, q domain.PriceQuote) error {
	const query = `
		INSERT INTO price_quotes (match_id, source, home_odds, draw_odds, away_odds, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (match_id, source) DO UPDATE SET
			home_odds  = EXCLUDED.home_odds,
			draw_odds  = EXCLUDED.draw_odds,
			away_odds  = EXCLUDED.away_odds,
			scraped_at = EXCLUDED.scraped_at`

	_, err := s.pool.Exec(ctx, query,
		q.MatchID, q.Source, q.HomeOdds, q.DrawOdds, q.AwayOdds, q.ScrapedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert quote for match %d: %w", q.MatchID, err)
	}
	return nil
}

// Latest returns the most recently scraped triplet for a match, across
// sources.
func (s *QuoteStore) Latest(ctx context.Context, matchID int64) (domain.PriceQuote, error) {
	const query = `
		SELECT match_id, source, home_odds, draw_odds, away_odds, scraped_at
		FROM price_quotes
		WHERE match_id = $1
		ORDER BY scraped_at DESC
		LIMIT 1`

	var q domain.PriceQuote
	err := s.pool.QueryRow(ctx, query, matchID).Scan(
		&q.MatchID, &q.Source, &q.HomeOdds, &q.DrawOdds, &q.AwayOdds, &q.ScrapedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PriceQuote{}, domain.ErrNotFound
		}
		return domain.PriceQuote{}, fmt.Errorf("postgres: latest quote for match %d: %w", matchID, err)
	}
	return q, nil
}
