package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// MatchStore implements domain.MatchStore using PostgreSQL.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore creates a new MatchStore backed by the given connection pool.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

const derivedCols = `
	dc_1x, dc_12, dc_x2, dnb_home, dnb_away,
	over_1_5, under_1_5, over_2_5, under_2_5, over_3_5, under_3_5,
	handicap_home, handicap_away, ah_home, ah_away,
	btts_yes, btts_no, btts_home_win, btts_away_win,
	htft_hh, htft_dd, htft_aa, htft_hd, htft_dh,
	cs_1_0, cs_2_0, cs_2_1, cs_0_0, cs_1_1, cs_2_2, cs_0_1, cs_0_2, cs_1_2,
	odd_total, even_total, win_to_nil_home, win_to_nil_away,
	home_over_1_5, home_under_1_5, away_over_1_5, away_under_1_5`

const matchCols = `
	m.id, m.home_team_id, m.away_team_id, ht.name, at.name,
	m.match_date, m.league, m.status, m.match_url, m.minute,
	m.home_score, m.away_score, m.ht_home_score, m.ht_away_score,
	m.home_odds, m.draw_odds, m.away_odds, m.handicap_line,
	m.dc_1x, m.dc_12, m.dc_x2, m.dnb_home, m.dnb_away,
	m.over_1_5, m.under_1_5, m.over_2_5, m.under_2_5, m.over_3_5, m.under_3_5,
	m.handicap_home, m.handicap_away, m.ah_home, m.ah_away,
	m.btts_yes, m.btts_no, m.btts_home_win, m.btts_away_win,
	m.htft_hh, m.htft_dd, m.htft_aa, m.htft_hd, m.htft_dh,
	m.cs_1_0, m.cs_2_0, m.cs_2_1, m.cs_0_0, m.cs_1_1, m.cs_2_2, m.cs_0_1, m.cs_0_2, m.cs_1_2,
	m.odd_total, m.even_total, m.win_to_nil_home, m.win_to_nil_away,
	m.home_over_1_5, m.home_under_1_5, m.away_over_1_5, m.away_under_1_5,
	m.scraped_at, m.updated_at`

const matchFrom = ` FROM matches m
	JOIN teams ht ON ht.id = m.home_team_id
	JOIN teams at ON at.id = m.away_team_id`

// derivedDest returns scan destinations for the derived-price columns, in
// derivedCols order.
func derivedDest(d *domain.DerivedOdds) []any {
	return []any{
		&d.DC1X, &d.DC12, &d.DCX2, &d.DNBHome, &d.DNBAway,
		&d.Over15, &d.Under15, &d.Over25, &d.Under25, &d.Over35, &d.Under35,
		&d.HandicapHome, &d.HandicapAway, &d.AHHome, &d.AHAway,
		&d.BTTSYes, &d.BTTSNo, &d.BTTSHomeWin, &d.BTTSAwayWin,
		&d.HTFTHomeHome, &d.HTFTDrawDraw, &d.HTFTAwayAway, &d.HTFTHomeDraw, &d.HTFTDrawHome,
		&d.CS10, &d.CS20, &d.CS21, &d.CS00, &d.CS11, &d.CS22, &d.CS01, &d.CS02, &d.CS12,
		&d.OddTotal, &d.EvenTotal, &d.WinToNilHome, &d.WinToNilAway,
		&d.HomeOver15, &d.HomeUnder15, &d.AwayOver15, &d.AwayUnder15,
	}
}

// scanMatch scans one joined match row into a domain.Match, in matchCols order.
func scanMatch(row pgx.Row) (domain.Match, error) {
	var m domain.Match
	var status string

	dest := []any{
		&m.ID, &m.HomeTeamID, &m.AwayTeamID, &m.HomeTeam, &m.AwayTeam,
		&m.MatchDate, &m.League, &status, &m.MatchURL, &m.Minute,
		&m.HomeScore, &m.AwayScore, &m.HTHomeScore, &m.HTAwayScore,
		&m.HomeOdds, &m.DrawOdds, &m.AwayOdds, &m.HandicapLine,
	}
	dest = append(dest, derivedDest(&m.Derived)...)
	dest = append(dest, &m.ScrapedAt, &m.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return domain.Match{}, err
	}
	m.Status = domain.MatchStatus(status)
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts a new match and fills in its ID. A unique violation on the
// URL or the active fixture index is reported as domain.ErrAlreadyExists so
// the caller can re-resolve.
func (s *MatchStore) Create(ctx context.Context, m *domain.Match) error {
	const query = `
		INSERT INTO matches (
			home_team_id, away_team_id, match_date, league, status,
			match_url, home_odds, draw_odds, away_odds, handicap_line, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	scrapedAt := m.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx, query,
		m.HomeTeamID, m.AwayTeamID, m.MatchDate, m.League, string(m.Status),
		m.MatchURL, m.HomeOdds, m.DrawOdds, m.AwayOdds, m.HandicapLine, scrapedAt,
	).Scan(&m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create match: %w", domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create match: %w", err)
	}
	return nil
}

// Update rewrites the identity-adjacent fields of an existing match.
func (s *MatchStore) Update(ctx context.Context, m domain.Match) error {
	const query = `
		UPDATE matches SET
			match_date = $2, league = $3, status = $4, match_url = $5,
			minute = $6, home_score = $7, away_score = $8,
			ht_home_score = $9, ht_away_score = $10,
			home_odds = $11, draw_odds = $12, away_odds = $13,
			scraped_at = $14, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, m.MatchDate, m.League, string(m.Status), m.MatchURL,
		m.Minute, m.HomeScore, m.AwayScore, m.HTHomeScore, m.HTAwayScore,
		m.HomeOdds, m.DrawOdds, m.AwayOdds, m.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update match %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update match %d: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a match by its primary key.
func (s *MatchStore) GetByID(ctx context.Context, id int64) (domain.Match, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+matchCols+matchFrom+` WHERE m.id = $1`, id)
	m, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, domain.ErrNotFound
		}
		return domain.Match{}, fmt.Errorf("postgres: get match %d: %w", id, err)
	}
	return m, nil
}

// GetByURL resolves the external locator against non-terminal rows.
func (s *MatchStore) GetByURL(ctx context.Context, url string) (domain.Match, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+matchCols+matchFrom+`
		 WHERE m.match_url = $1 AND m.status IN ('upcoming', 'live')`, url)
	m, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Match{}, domain.ErrNotFound
		}
		return domain.Match{}, fmt.Errorf("postgres: get match by url: %w", err)
	}
	return m, nil
}

// FindByTeams resolves a case-insensitive team-name pair, optionally
// constrained to a scheduled-time window. Two candidate rows is an identity
// ambiguity, not a pick-one.
func (s *MatchStore) FindByTeams(ctx context.Context, home, away string, around *time.Time, window time.Duration, statuses []domain.MatchStatus) (domain.Match, error) {
	query := `SELECT ` + matchCols + matchFrom + `
		WHERE LOWER(ht.name) = LOWER($1) AND LOWER(at.name) = LOWER($2)
		  AND m.status = ANY($3)`
	args := []any{home, away, statusStrings(statuses)}

	if around != nil {
		query += ` AND m.match_date BETWEEN $4 AND $5`
		args = append(args, around.Add(-window), around.Add(window))
	}
	query += ` ORDER BY m.match_date LIMIT 2`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.Match{}, fmt.Errorf("postgres: find match by teams: %w", err)
	}
	defer rows.Close()

	var found []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return domain.Match{}, fmt.Errorf("postgres: scan match by teams: %w", err)
		}
		found = append(found, m)
	}
	if err := rows.Err(); err != nil {
		return domain.Match{}, fmt.Errorf("postgres: find match by teams rows: %w", err)
	}

	switch len(found) {
	case 0:
		return domain.Match{}, domain.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return domain.Match{}, domain.ErrAmbiguousIdentity
	}
}

// UpdateState refreshes the mutable live fields without touching derived
// prices.
func (s *MatchStore) UpdateState(ctx context.Context, m domain.Match) error {
	const query = `
		UPDATE matches SET
			status = $2, match_url = $3, league = $4, minute = $5,
			home_score = $6, away_score = $7,
			ht_home_score = $8, ht_away_score = $9,
			home_odds = $10, draw_odds = $11, away_odds = $12,
			scraped_at = $13, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, string(m.Status), m.MatchURL, m.League, m.Minute,
		m.HomeScore, m.AwayScore, m.HTHomeScore, m.HTAwayScore,
		m.HomeOdds, m.DrawOdds, m.AwayOdds, m.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update match state %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update match state %d: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// UpdateDerived stores a freshly computed derived-price set as one write.
func (s *MatchStore) UpdateDerived(ctx context.Context, id int64, handicapLine float64, d domain.DerivedOdds) error {
	const query = `
		UPDATE matches SET
			handicap_line = $2,
			dc_1x = $3, dc_12 = $4, dc_x2 = $5, dnb_home = $6, dnb_away = $7,
			over_1_5 = $8, under_1_5 = $9, over_2_5 = $10, under_2_5 = $11,
			over_3_5 = $12, under_3_5 = $13,
			handicap_home = $14, handicap_away = $15, ah_home = $16, ah_away = $17,
			btts_yes = $18, btts_no = $19, btts_home_win = $20, btts_away_win = $21,
			htft_hh = $22, htft_dd = $23, htft_aa = $24, htft_hd = $25, htft_dh = $26,
			cs_1_0 = $27, cs_2_0 = $28, cs_2_1 = $29, cs_0_0 = $30, cs_1_1 = $31,
			cs_2_2 = $32, cs_0_1 = $33, cs_0_2 = $34, cs_1_2 = $35,
			odd_total = $36, even_total = $37,
			win_to_nil_home = $38, win_to_nil_away = $39,
			home_over_1_5 = $40, home_under_1_5 = $41,
			away_over_1_5 = $42, away_under_1_5 = $43,
			updated_at = NOW()
		WHERE id = $1`

	args := []any{id, handicapLine,
		d.DC1X, d.DC12, d.DCX2, d.DNBHome, d.DNBAway,
		d.Over15, d.Under15, d.Over25, d.Under25, d.Over35, d.Under35,
		d.HandicapHome, d.HandicapAway, d.AHHome, d.AHAway,
		d.BTTSYes, d.BTTSNo, d.BTTSHomeWin, d.BTTSAwayWin,
		d.HTFTHomeHome, d.HTFTDrawDraw, d.HTFTAwayAway, d.HTFTHomeDraw, d.HTFTDrawHome,
		d.CS10, d.CS20, d.CS21, d.CS00, d.CS11, d.CS22, d.CS01, d.CS02, d.CS12,
		d.OddTotal, d.EvenTotal, d.WinToNilHome, d.WinToNilAway,
		d.HomeOver15, d.HomeUnder15, d.AwayOver15, d.AwayUnder15,
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update derived odds %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update derived odds %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkFinished freezes the match. No-op on rows that are already terminal.
func (s *MatchStore) MarkFinished(ctx context.Context, id int64) error {
	const query = `
		UPDATE matches SET status = 'finished', updated_at = NOW()
		WHERE id = $1 AND status IN ('upcoming', 'live')`

	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("postgres: mark match %d finished: %w", id, err)
	}
	return nil
}

// ListByStatus returns all matches in the given lifecycle state.
func (s *MatchStore) ListByStatus(ctx context.Context, status domain.MatchStatus) ([]domain.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+matchCols+matchFrom+` WHERE m.status = $1 ORDER BY m.match_date`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("postgres: list matches by status: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

// ListFinishedUnsettled returns finished matches still carrying pending
// wagers or pending combination legs.
func (s *MatchStore) ListFinishedUnsettled(ctx context.Context) ([]domain.Match, error) {
	const query = `SELECT ` + matchCols + matchFrom + `
		WHERE m.status = 'finished'
		  AND (
			EXISTS (SELECT 1 FROM wagers w WHERE w.match_id = m.id AND w.status = 'pending')
			OR EXISTS (SELECT 1 FROM combination_legs l WHERE l.match_id = m.id AND l.status = 'pending')
		  )
		ORDER BY m.match_date`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unsettled matches: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

// DeleteStaleUpcoming removes upcoming matches not seen since the cutoff.
// Matches that already attracted wagers are kept.
func (s *MatchStore) DeleteStaleUpcoming(ctx context.Context, unseenSince time.Time) (int64, error) {
	const query = `
		DELETE FROM matches m
		WHERE m.status = 'upcoming' AND m.scraped_at < $1
		  AND NOT EXISTS (SELECT 1 FROM wagers w WHERE w.match_id = m.id)
		  AND NOT EXISTS (SELECT 1 FROM combination_legs l WHERE l.match_id = m.id)`

	tag, err := s.pool.Exec(ctx, query, unseenSince)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete stale upcoming: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListFinishedBefore returns finished matches last touched before the cutoff.
func (s *MatchStore) ListFinishedBefore(ctx context.Context, before time.Time) ([]domain.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+matchCols+matchFrom+`
		 WHERE m.status = 'finished' AND m.updated_at < $1
		 ORDER BY m.updated_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finished before: %w", err)
	}
	defer rows.Close()
	return collectMatches(rows)
}

func collectMatches(rows pgx.Rows) ([]domain.Match, error) {
	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: match rows: %w", err)
	}
	return matches, nil
}

func statusStrings(statuses []domain.MatchStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
