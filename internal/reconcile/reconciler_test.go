package reconcile

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// fakeMatchStore resolves identity the way the real store does: by URL against
// non-terminal rows, then by lowercase team pair filtered by status and an
// optional kickoff window.
type fakeMatchStore struct {
	nextID  int64
	rows    map[int64]*domain.Match
	updates int

	// createErr is returned once by Create to simulate a lost insert race.
	createErr error

	// raceRow, when set, is inserted by the failing Create call, imitating
	// the competing writer whose row triggered the unique violation.
	raceRow *domain.Match
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{nextID: 1, rows: map[int64]*domain.Match{}}
}

func (s *fakeMatchStore) add(m domain.Match) int64 {
	m.ID = s.nextID
	s.nextID++
	s.rows[m.ID] = &m
	return m.ID
}

// Create enforces the schema's unique indexes: the locator index over every
// row and the fixture index (pair + kickoff) over non-terminal rows.
func (s *fakeMatchStore) Create(ctx context.Context, m *domain.Match) error {
	if s.createErr != nil {
		err := s.createErr
		s.createErr = nil
		if s.raceRow != nil {
			s.add(*s.raceRow)
			s.raceRow = nil
		}
		return err
	}
	for _, row := range s.rows {
		if m.MatchURL != "" && row.MatchURL == m.MatchURL {
			return domain.ErrAlreadyExists
		}
		if !row.Status.Terminal() &&
			strings.EqualFold(row.HomeTeam, m.HomeTeam) &&
			strings.EqualFold(row.AwayTeam, m.AwayTeam) &&
			row.MatchDate.Equal(m.MatchDate) {
			return domain.ErrAlreadyExists
		}
	}
	m.ID = s.nextID
	s.nextID++
	cp := *m
	s.rows[m.ID] = &cp
	return nil
}

func (s *fakeMatchStore) Update(ctx context.Context, m domain.Match) error {
	s.rows[m.ID] = &m
	return nil
}

func (s *fakeMatchStore) GetByID(ctx context.Context, id int64) (domain.Match, error) {
	m, ok := s.rows[id]
	if !ok {
		return domain.Match{}, domain.ErrNotFound
	}
	return *m, nil
}

func (s *fakeMatchStore) GetByURL(ctx context.Context, url string) (domain.Match, error) {
	for _, m := range s.rows {
		if m.MatchURL == url && !m.Status.Terminal() {
			return *m, nil
		}
	}
	return domain.Match{}, domain.ErrNotFound
}

func (s *fakeMatchStore) FindByTeams(ctx context.Context, home, away string, around *time.Time, window time.Duration, statuses []domain.MatchStatus) (domain.Match, error) {
	var found []*domain.Match
	for _, m := range s.rows {
		if !strings.EqualFold(m.HomeTeam, home) || !strings.EqualFold(m.AwayTeam, away) {
			continue
		}
		ok := false
		for _, st := range statuses {
			if m.Status == st {
				ok = true
			}
		}
		if !ok {
			continue
		}
		if around != nil {
			d := m.MatchDate.Sub(*around)
			if d < -window || d > window {
				continue
			}
		}
		found = append(found, m)
	}
	switch len(found) {
	case 0:
		return domain.Match{}, domain.ErrNotFound
	case 1:
		return *found[0], nil
	default:
		return domain.Match{}, domain.ErrAmbiguousIdentity
	}
}

func (s *fakeMatchStore) UpdateState(ctx context.Context, m domain.Match) error {
	s.rows[m.ID] = &m
	s.updates++
	return nil
}

func (s *fakeMatchStore) UpdateDerived(ctx context.Context, id int64, line float64, d domain.DerivedOdds) error {
	return nil
}

func (s *fakeMatchStore) MarkFinished(ctx context.Context, id int64) error {
	m, ok := s.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !m.Status.Terminal() {
		m.Status = domain.MatchStatusFinished
	}
	return nil
}

func (s *fakeMatchStore) ListByStatus(ctx context.Context, status domain.MatchStatus) ([]domain.Match, error) {
	var out []domain.Match
	for _, m := range s.rows {
		if m.Status == status {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *fakeMatchStore) ListFinishedUnsettled(ctx context.Context) ([]domain.Match, error) {
	return nil, nil
}

func (s *fakeMatchStore) DeleteStaleUpcoming(ctx context.Context, unseenSince time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeMatchStore) ListFinishedBefore(ctx context.Context, before time.Time) ([]domain.Match, error) {
	return nil, nil
}

type fakeTeamStore struct{ next int64 }

func (s *fakeTeamStore) UpsertNames(ctx context.Context, names []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, n := range names {
		s.next++
		out[n] = s.next
	}
	return out, nil
}

type fakeQuoteStore struct{ quotes []domain.PriceQuote }

func (s *fakeQuoteStore) Upsert(ctx context.Context, q domain.PriceQuote) error {
	s.quotes = append(s.quotes, q)
	return nil
}

func (s *fakeQuoteStore) Latest(ctx context.Context, matchID int64) (domain.PriceQuote, error) {
	for i := len(s.quotes) - 1; i >= 0; i-- {
		if s.quotes[i].MatchID == matchID {
			return s.quotes[i], nil
		}
	}
	return domain.PriceQuote{}, domain.ErrNotFound
}

type fakeMarketStore struct{ byMatch map[int64][]domain.MarketSnapshot }

func (s *fakeMarketStore) UpsertForMatch(ctx context.Context, matchID int64, markets []domain.MarketSnapshot) error {
	if s.byMatch == nil {
		s.byMatch = map[int64][]domain.MarketSnapshot{}
	}
	s.byMatch[matchID] = markets
	return nil
}

func (s *fakeMarketStore) ListForMatch(ctx context.Context, matchID int64) ([]domain.MarketSnapshot, error) {
	return s.byMatch[matchID], nil
}

func testReconciler(matches *fakeMatchStore) (*Reconciler, *fakeQuoteStore, *fakeMarketStore) {
	quotes := &fakeQuoteStore{}
	markets := &fakeMarketStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(matches, &fakeTeamStore{}, quotes, markets, "oddsfeed", logger), quotes, markets
}

func odds(h, d, a float64) (*float64, *float64, *float64) {
	return &h, &d, &a
}

func upcomingSnapshot(kickoff time.Time) domain.Snapshot {
	s := domain.Snapshot{
		League:    "Premier League",
		MatchURL:  "https://feed/arsenal-chelsea",
		KickoffAt: kickoff,
		HomeTeam:  "Arsenal",
		AwayTeam:  "Chelsea",
	}
	s.HomeOdds, s.DrawOdds, s.AwayOdds = odds(2.00, 3.20, 4.00)
	return s
}

func TestReconcileCreatesOnFirstSighting(t *testing.T) {
	matches := newFakeMatchStore()
	r, quotes, _ := testReconciler(matches)
	kickoff := time.Now().Add(6 * time.Hour)

	res, err := r.Reconcile(context.Background(), []domain.Snapshot{upcomingSnapshot(kickoff)})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 1 || res.Updated != 0 || res.Skipped != 0 {
		t.Errorf("result = %+v, want one creation", res)
	}
	if len(res.SeenIDs) != 1 {
		t.Fatalf("seen ids = %v, want one", res.SeenIDs)
	}
	m := matches.rows[res.SeenIDs[0]]
	if m.Status != domain.MatchStatusUpcoming {
		t.Errorf("status = %s, want upcoming", m.Status)
	}
	if len(res.Repriced) != 1 {
		t.Errorf("repriced = %v, want the new match", res.Repriced)
	}
	if len(quotes.quotes) != 1 || quotes.quotes[0].Source != "oddsfeed" {
		t.Errorf("quotes = %+v, want one row under the source label", quotes.quotes)
	}
}

func TestReconcileResolvesByURLFirst(t *testing.T) {
	matches := newFakeMatchStore()
	// Same URL, but different team spellings than the stored row.
	id := matches.add(domain.Match{
		HomeTeam: "Arsenal FC", AwayTeam: "Chelsea FC",
		MatchURL:  "https://feed/arsenal-chelsea",
		MatchDate: time.Now().Add(6 * time.Hour),
		Status:    domain.MatchStatusUpcoming,
	})
	r, _, _ := testReconciler(matches)

	res, err := r.Reconcile(context.Background(), []domain.Snapshot{upcomingSnapshot(time.Now().Add(6 * time.Hour))})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 0 || res.Updated != 1 {
		t.Errorf("result = %+v, want an update of the existing row", res)
	}
	if len(res.SeenIDs) != 1 || res.SeenIDs[0] != id {
		t.Errorf("seen ids = %v, want [%d]", res.SeenIDs, id)
	}
}

func TestReconcileResolvesByTeamsInWindow(t *testing.T) {
	matches := newFakeMatchStore()
	kickoff := time.Now().Add(6 * time.Hour)
	id := matches.add(domain.Match{
		HomeTeam: "arsenal", AwayTeam: "chelsea",
		MatchDate: kickoff.Add(30 * time.Minute),
		Status:    domain.MatchStatusUpcoming,
	})
	r, _, _ := testReconciler(matches)

	snap := upcomingSnapshot(kickoff)
	snap.MatchURL = "" // force the team-pair path

	res, err := r.Reconcile(context.Background(), []domain.Snapshot{snap})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 0 || res.Updated != 1 || res.SeenIDs[0] != id {
		t.Errorf("result = %+v seen=%v, want case-insensitive window match of %d", res, res.SeenIDs, id)
	}
}

func TestReconcileOutsideWindowCreatesNewMatch(t *testing.T) {
	matches := newFakeMatchStore()
	kickoff := time.Now().Add(6 * time.Hour)
	matches.add(domain.Match{
		HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		MatchDate: kickoff.Add(72 * time.Hour), // reverse fixture later in the season
		Status:    domain.MatchStatusUpcoming,
	})
	r, _, _ := testReconciler(matches)

	snap := upcomingSnapshot(kickoff)
	snap.MatchURL = ""

	res, err := r.Reconcile(context.Background(), []domain.Snapshot{snap})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("result = %+v, a fixture outside the window must create a new row", res)
	}
	if len(matches.rows) != 2 {
		t.Fatalf("rows = %d, both fixtures of the pair must be cataloged", len(matches.rows))
	}
}

func TestReconcileNextFixtureOfSamePairIsCataloged(t *testing.T) {
	matches := newFakeMatchStore()
	r, _, _ := testReconciler(matches)
	first := time.Now().Add(6 * time.Hour)

	snap := upcomingSnapshot(first)
	if _, err := r.Reconcile(context.Background(), []domain.Snapshot{snap}); err != nil {
		t.Fatalf("first fixture: %v", err)
	}

	// The pair's next fixture, days later, under its own locator. It must get
	// its own row rather than being rejected by the fixture index every cycle.
	next := upcomingSnapshot(first.Add(14 * 24 * time.Hour))
	next.MatchURL = "https://feed/arsenal-chelsea-2"

	res, err := r.Reconcile(context.Background(), []domain.Snapshot{next})
	if err != nil {
		t.Fatalf("next fixture: %v", err)
	}
	if res.Created != 1 || res.Skipped != 0 {
		t.Errorf("result = %+v, want the second fixture created", res)
	}
	if len(matches.rows) != 2 {
		t.Fatalf("rows = %d, want one per fixture", len(matches.rows))
	}
	for _, m := range matches.rows {
		if m.MatchURL == next.MatchURL && !m.MatchDate.Equal(next.KickoffAt) {
			t.Errorf("second fixture kickoff = %v, want %v", m.MatchDate, next.KickoffAt)
		}
	}
}

func TestReconcileFindsDriftedLiveMatch(t *testing.T) {
	matches := newFakeMatchStore()
	id := matches.add(domain.Match{
		HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		MatchDate: time.Now().Add(-3 * time.Hour), // delayed kickoff, way off schedule
		Status:    domain.MatchStatusLive,
	})
	r, _, _ := testReconciler(matches)

	minute, hs, as := 70, 1, 0
	snap := upcomingSnapshot(time.Now())
	snap.MatchURL = ""
	snap.Minute, snap.HomeScore, snap.AwayScore = &minute, &hs, &as

	res, err := r.Reconcile(context.Background(), []domain.Snapshot{snap})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Updated != 1 || res.SeenIDs[0] != id {
		t.Errorf("result = %+v seen=%v, want the live row %d", res, res.SeenIDs, id)
	}
	m := matches.rows[id]
	if m.HomeScore == nil || *m.HomeScore != 1 || m.Minute == nil || *m.Minute != 70 {
		t.Errorf("live state not applied: %+v", m)
	}
}

func TestReconcileCreateRaceFallsBackToUpdate(t *testing.T) {
	matches := newFakeMatchStore()
	r, _, _ := testReconciler(matches)
	kickoff := time.Now().Add(6 * time.Hour)
	snap := upcomingSnapshot(kickoff)

	// The competing writer's row appears between our failed insert and the
	// second resolve.
	matches.createErr = domain.ErrAlreadyExists
	matches.raceRow = &domain.Match{
		HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		MatchURL:  snap.MatchURL,
		MatchDate: kickoff,
		Status:    domain.MatchStatusUpcoming,
	}

	res, err := r.Reconcile(context.Background(), []domain.Snapshot{snap})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 0 || res.Updated != 1 {
		t.Errorf("result = %+v, want the competing row updated in place", res)
	}
	if len(matches.rows) != 1 {
		t.Errorf("rows = %d, the race must not leave a duplicate", len(matches.rows))
	}
}

func TestReconcileSkipsMalformedAndAmbiguous(t *testing.T) {
	matches := newFakeMatchStore()
	// Two upcoming rows with the same pair inside the window: ambiguous.
	kickoff := time.Now().Add(2 * time.Hour)
	matches.add(domain.Match{HomeTeam: "Lyon", AwayTeam: "Lille", MatchDate: kickoff, Status: domain.MatchStatusUpcoming})
	matches.add(domain.Match{HomeTeam: "Lyon", AwayTeam: "Lille", MatchDate: kickoff.Add(10 * time.Minute), Status: domain.MatchStatusUpcoming})
	r, _, _ := testReconciler(matches)

	batch := []domain.Snapshot{
		{HomeTeam: "", AwayTeam: "Chelsea", KickoffAt: kickoff},      // missing identity
		{HomeTeam: "Derby", AwayTeam: "Derby", KickoffAt: kickoff},   // self-play
		{HomeTeam: "Lyon", AwayTeam: "Lille", KickoffAt: kickoff},    // ambiguous
		upcomingSnapshot(kickoff),                                     // fine
	}

	res, err := r.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", res.Skipped)
	}
	if res.Created != 1 {
		t.Errorf("created = %d, the valid snapshot must still apply", res.Created)
	}
}

func TestReconcileFinishedHintFinalizes(t *testing.T) {
	matches := newFakeMatchStore()
	hs, as := 2, 1
	id := matches.add(domain.Match{
		HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		MatchURL:  "https://feed/arsenal-chelsea",
		MatchDate: time.Now().Add(-2 * time.Hour),
		Status:    domain.MatchStatusLive,
		HomeScore: &hs, AwayScore: &as,
	})
	r, _, _ := testReconciler(matches)

	snap := upcomingSnapshot(time.Now())
	snap.HomeScore, snap.AwayScore = &hs, &as
	snap.Finished = true

	res, err := r.Reconcile(context.Background(), []domain.Snapshot{snap})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Finalized) != 1 || res.Finalized[0] != id {
		t.Errorf("finalized = %v, want [%d]", res.Finalized, id)
	}
	if got := matches.rows[id].Status; got != domain.MatchStatusFinished {
		t.Errorf("status = %s, want finished", got)
	}
}

func TestReconcileLateSnapshotForFinishedMatchChangesNothing(t *testing.T) {
	matches := newFakeMatchStore()
	id := matches.add(domain.Match{
		HomeTeam: "Arsenal", AwayTeam: "Chelsea",
		MatchURL:  "https://feed/arsenal-chelsea",
		MatchDate: time.Now().Add(-3 * time.Hour),
		Status:    domain.MatchStatusFinished,
	})
	// Finished rows are invisible to identity resolution, so the insert runs
	// into the unique locator index instead.
	r, quotes, _ := testReconciler(matches)

	res, err := r.Reconcile(context.Background(), []domain.Snapshot{upcomingSnapshot(time.Now())})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Skipped != 1 || res.Created != 0 || res.Updated != 0 {
		t.Errorf("result = %+v, the late snapshot must be skipped", res)
	}
	if matches.updates != 0 {
		t.Errorf("updates = %d, want 0", matches.updates)
	}
	if got := matches.rows[id].Status; got != domain.MatchStatusFinished {
		t.Errorf("status = %s, the settled row must stay frozen", got)
	}
	if len(quotes.quotes) != 0 {
		t.Errorf("quotes = %+v, want none", quotes.quotes)
	}
}

func TestReconcileRepricesOnlyOnChange(t *testing.T) {
	matches := newFakeMatchStore()
	r, _, _ := testReconciler(matches)
	kickoff := time.Now().Add(6 * time.Hour)
	snap := upcomingSnapshot(kickoff)

	if _, err := r.Reconcile(context.Background(), []domain.Snapshot{snap}); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	// Same prices again: no reprice.
	res, err := r.Reconcile(context.Background(), []domain.Snapshot{snap})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(res.Repriced) != 0 {
		t.Errorf("repriced = %v, unchanged prices must not trigger a recompute", res.Repriced)
	}

	// Drifted home price: reprice.
	snap.HomeOdds, snap.DrawOdds, snap.AwayOdds = odds(1.95, 3.20, 4.00)
	res, err = r.Reconcile(context.Background(), []domain.Snapshot{snap})
	if err != nil {
		t.Fatalf("third batch: %v", err)
	}
	if len(res.Repriced) != 1 {
		t.Errorf("repriced = %v, want the drifted match", res.Repriced)
	}
}
