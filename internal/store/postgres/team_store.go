package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TeamStore implements domain.TeamStore using PostgreSQL.
type TeamStore struct {
	pool *pgxpool.Pool
}

// NewTeamStore creates a new TeamStore backed by the given connection pool.
func NewTeamStore(pool *pgxpool.Pool) *TeamStore {
	return &TeamStore{pool: pool}
}

// UpsertNames inserts any unseen names and returns name -> id for every
// requested name. Identity is the case-folded name; the returned map is keyed
// by the names as requested.
func (s *TeamStore) UpsertNames(ctx context.Context, names []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(names))
	if len(names) == 0 {
		return ids, nil
	}

	const insert = `
		INSERT INTO teams (name) VALUES ($1)
		ON CONFLICT (LOWER(name)) DO NOTHING`
	const lookup = `SELECT id FROM teams WHERE LOWER(name) = LOWER($1)`

	batch := &pgx.Batch{}
	for _, name := range names {
		batch.Queue(insert, name)
	}
	br := s.pool.SendBatch(ctx, batch)
	for range names {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("postgres: upsert team: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("postgres: upsert teams: %w", err)
	}

	for _, name := range names {
		if _, ok := ids[name]; ok {
			continue
		}
		var id int64
		if err := s.pool.QueryRow(ctx, lookup, name).Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: lookup team %q: %w", name, err)
		}
		ids[name] = id
	}
	return ids, nil
}
