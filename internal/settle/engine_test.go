package settle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// fakeTx is an in-memory SettlementTx. Like the real implementation it only
// selects and mutates pending rows, which is what the engine's idempotency
// rests on.
type fakeTx struct {
	matchID int64
	match   domain.Match

	wagers   map[uuid.UUID]*domain.Wager
	legs     map[int64]*domain.CombinationLeg
	combos   map[uuid.UUID]*domain.CombinationWager
	balances map[int64]decimal.Decimal

	commits   int
	rollbacks int
}

func newFakeTx(m domain.Match) *fakeTx {
	return &fakeTx{
		matchID:  m.ID,
		match:    m,
		wagers:   map[uuid.UUID]*domain.Wager{},
		legs:     map[int64]*domain.CombinationLeg{},
		combos:   map[uuid.UUID]*domain.CombinationWager{},
		balances: map[int64]decimal.Decimal{},
	}
}

func (f *fakeTx) addWager(userID int64, bt domain.BetType, stake, payout float64) uuid.UUID {
	id := uuid.New()
	f.wagers[id] = &domain.Wager{
		ID:              id,
		UserID:          userID,
		MatchID:         f.matchID,
		BetType:         bt,
		Stake:           decimal.NewFromFloat(stake),
		PotentialPayout: decimal.NewFromFloat(payout),
		Status:          domain.WagerStatusPending,
	}
	return id
}

func (f *fakeTx) addCombo(userID int64, stake float64, legs ...domain.CombinationLeg) uuid.UUID {
	id := uuid.New()
	f.combos[id] = &domain.CombinationWager{
		ID:     id,
		UserID: userID,
		Stake:  decimal.NewFromFloat(stake),
		Status: domain.WagerStatusPending,
	}
	for i := range legs {
		legs[i].ID = int64(len(f.legs) + 1)
		legs[i].CombinationID = id
		if legs[i].Status == "" {
			legs[i].Status = domain.WagerStatusPending
		}
		l := legs[i]
		f.legs[l.ID] = &l
	}
	return id
}

func (f *fakeTx) Match(ctx context.Context) (domain.Match, error) { return f.match, nil }

func (f *fakeTx) PendingWagers(ctx context.Context) ([]domain.Wager, error) {
	var out []domain.Wager
	for _, w := range f.wagers {
		if w.MatchID == f.matchID && w.Status == domain.WagerStatusPending {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeTx) PendingLegs(ctx context.Context) ([]domain.CombinationLeg, error) {
	var out []domain.CombinationLeg
	for _, l := range f.legs {
		if l.MatchID == f.matchID && l.Status == domain.WagerStatusPending {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeTx) SetWagerStatus(ctx context.Context, id uuid.UUID, status domain.WagerStatus) error {
	w, ok := f.wagers[id]
	if !ok || w.Status != domain.WagerStatusPending {
		return domain.ErrNotFound
	}
	w.Status = status
	return nil
}

func (f *fakeTx) SetLegStatus(ctx context.Context, id int64, status domain.WagerStatus) error {
	l, ok := f.legs[id]
	if !ok || l.Status != domain.WagerStatusPending {
		return domain.ErrNotFound
	}
	l.Status = status
	return nil
}

func (f *fakeTx) Combination(ctx context.Context, id uuid.UUID) (domain.CombinationWager, []domain.CombinationLeg, error) {
	c, ok := f.combos[id]
	if !ok {
		return domain.CombinationWager{}, nil, domain.ErrNotFound
	}
	var legs []domain.CombinationLeg
	for _, l := range f.legs {
		if l.CombinationID == id {
			legs = append(legs, *l)
		}
	}
	return *c, legs, nil
}

func (f *fakeTx) SettleCombination(ctx context.Context, id uuid.UUID, status domain.WagerStatus, effectivePrice float64, payout decimal.Decimal) error {
	c, ok := f.combos[id]
	if !ok || c.Status != domain.WagerStatusPending {
		return domain.ErrNotFound
	}
	c.Status = status
	c.TotalPrice = effectivePrice
	c.PotentialPayout = payout
	return nil
}

func (f *fakeTx) CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	f.balances[userID] = f.balances[userID].Add(amount)
	return nil
}

func (f *fakeTx) Commit(ctx context.Context) error   { f.commits++; return nil }
func (f *fakeTx) Rollback(ctx context.Context) error { f.rollbacks++; return nil }

type fakeStore struct{ tx *fakeTx }

func (s *fakeStore) Begin(ctx context.Context, matchID int64) (domain.SettlementTx, error) {
	if matchID != s.tx.matchID {
		return nil, domain.ErrNotFound
	}
	return s.tx, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func finishedMatch(id int64, home, away int) domain.Match {
	return domain.Match{
		ID:           id,
		Status:       domain.MatchStatusFinished,
		HomeScore:    &home,
		AwayScore:    &away,
		HandicapLine: 1.5,
	}
}

func TestSettleMatchSingles(t *testing.T) {
	tx := newFakeTx(finishedMatch(7, 2, 1))
	winID := tx.addWager(1, domain.BetHome, 10, 18)
	loseID := tx.addWager(2, domain.BetUnder25, 10, 21)

	engine := New(&fakeStore{tx: tx}, nil, nil, testLogger())
	sum, err := engine.SettleMatch(context.Background(), 7)
	if err != nil {
		t.Fatalf("SettleMatch: %v", err)
	}

	if sum.WagersWon != 1 || sum.WagersLost != 1 || sum.WagersRefunded != 0 {
		t.Errorf("summary = %+v, want 1 won / 1 lost", sum)
	}
	if got := tx.wagers[winID].Status; got != domain.WagerStatusWon {
		t.Errorf("winning wager status = %s", got)
	}
	if got := tx.wagers[loseID].Status; got != domain.WagerStatusLost {
		t.Errorf("losing wager status = %s", got)
	}
	if !tx.balances[1].Equal(decimal.NewFromFloat(18)) {
		t.Errorf("winner balance = %s, want 18", tx.balances[1])
	}
	if !tx.balances[2].IsZero() {
		t.Errorf("loser balance = %s, want 0", tx.balances[2])
	}
	if tx.commits != 1 {
		t.Errorf("commits = %d, want 1", tx.commits)
	}
}

func TestSettleMatchDNBPushRefundsStake(t *testing.T) {
	tx := newFakeTx(finishedMatch(7, 1, 1))
	id := tx.addWager(1, domain.BetDNBHome, 25, 40)

	engine := New(&fakeStore{tx: tx}, nil, nil, testLogger())
	sum, err := engine.SettleMatch(context.Background(), 7)
	if err != nil {
		t.Fatalf("SettleMatch: %v", err)
	}

	if sum.WagersRefunded != 1 {
		t.Fatalf("refunded = %d, want 1", sum.WagersRefunded)
	}
	if got := tx.wagers[id].Status; got != domain.WagerStatusRefunded {
		t.Errorf("status = %s, want refunded", got)
	}
	// A push returns exactly the stake, never the potential payout.
	if !tx.balances[1].Equal(decimal.NewFromFloat(25)) {
		t.Errorf("balance = %s, want 25", tx.balances[1])
	}
}

func TestSettleMatchRefundsAll(t *testing.T) {
	canceled := domain.Match{ID: 7, Status: domain.MatchStatusCanceled}
	scoreless := domain.Match{ID: 7, Status: domain.MatchStatusFinished}

	for name, m := range map[string]domain.Match{"canceled": canceled, "finished without score": scoreless} {
		t.Run(name, func(t *testing.T) {
			tx := newFakeTx(m)
			tx.addWager(1, domain.BetHome, 10, 18)
			tx.addWager(2, domain.BetOver25, 5, 9)

			engine := New(&fakeStore{tx: tx}, nil, nil, testLogger())
			sum, err := engine.SettleMatch(context.Background(), 7)
			if err != nil {
				t.Fatalf("SettleMatch: %v", err)
			}
			if sum.WagersRefunded != 2 || sum.WagersWon != 0 || sum.WagersLost != 0 {
				t.Errorf("summary = %+v, want 2 refunded", sum)
			}
			if !tx.balances[1].Equal(decimal.NewFromFloat(10)) || !tx.balances[2].Equal(decimal.NewFromFloat(5)) {
				t.Errorf("balances = %v, want stakes back", tx.balances)
			}
		})
	}
}

func TestSettleMatchRejectsNonTerminal(t *testing.T) {
	tx := newFakeTx(domain.Match{ID: 7, Status: domain.MatchStatusLive})
	engine := New(&fakeStore{tx: tx}, nil, nil, testLogger())
	_, err := engine.SettleMatch(context.Background(), 7)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if tx.commits != 0 {
		t.Error("transaction must not commit for a live match")
	}
}

func TestSettleMatchIdempotent(t *testing.T) {
	tx := newFakeTx(finishedMatch(7, 2, 1))
	tx.addWager(1, domain.BetHome, 10, 18)

	engine := New(&fakeStore{tx: tx}, nil, nil, testLogger())
	if _, err := engine.SettleMatch(context.Background(), 7); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sum, err := engine.SettleMatch(context.Background(), 7)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if sum.Resolved() != 0 || sum.CombosResolved != 0 {
		t.Errorf("second run resolved %d wagers, want 0", sum.Resolved())
	}
	if !tx.balances[1].Equal(decimal.NewFromFloat(18)) {
		t.Errorf("balance = %s after re-run, want 18 credited once", tx.balances[1])
	}
}

func TestSettleMatchUnknownBetTypeStaysPending(t *testing.T) {
	tx := newFakeTx(finishedMatch(7, 2, 1))
	oddID := tx.addWager(1, domain.BetType("first_corner"), 10, 30)
	okID := tx.addWager(2, domain.BetHome, 10, 18)

	engine := New(&fakeStore{tx: tx}, nil, nil, testLogger())
	sum, err := engine.SettleMatch(context.Background(), 7)
	if err != nil {
		t.Fatalf("SettleMatch: %v", err)
	}

	if got := tx.wagers[oddID].Status; got != domain.WagerStatusPending {
		t.Errorf("unknown bet type status = %s, must stay pending", got)
	}
	if got := tx.wagers[okID].Status; got != domain.WagerStatusWon {
		t.Errorf("known bet type status = %s, want won", got)
	}
	if sum.Resolved() != 1 {
		t.Errorf("resolved = %d, want 1", sum.Resolved())
	}
}

func TestSettleCombinationWon(t *testing.T) {
	tx := newFakeTx(finishedMatch(7, 2, 1))
	comboID := tx.addCombo(5, 10,
		domain.CombinationLeg{MatchID: 7, BetType: domain.BetHome, Price: 2.00},
		domain.CombinationLeg{MatchID: 7, BetType: domain.BetUnder35, Price: 1.50},
		// No half-time score recorded, so this leg pushes.
		domain.CombinationLeg{MatchID: 7, BetType: domain.BetHTFTHomeHome, Price: 3.10},
	)

	engine := New(&fakeStore{tx: tx}, nil, nil, testLogger())
	sum, err := engine.SettleMatch(context.Background(), 7)
	if err != nil {
		t.Fatalf("SettleMatch: %v", err)
	}

	if sum.LegsResolved != 3 || sum.CombosResolved != 1 {
		t.Fatalf("summary = %+v, want 3 legs and 1 combination", sum)
	}
	combo := tx.combos[comboID]
	if combo.Status != domain.WagerStatusWon {
		t.Errorf("combination status = %s, want won", combo.Status)
	}
	// 2.00 * 1.50, with the pushed leg contributing a multiplier of 1.
	if combo.TotalPrice != 3.0 {
		t.Errorf("effective price = %v, want 3.0", combo.TotalPrice)
	}
	if !tx.balances[5].Equal(decimal.NewFromFloat(30)) {
		t.Errorf("balance = %s, want 30", tx.balances[5])
	}
}

func TestSettleCombinationLostLeg(t *testing.T) {
	tx := newFakeTx(finishedMatch(7, 2, 1))
	comboID := tx.addCombo(5, 10,
		domain.CombinationLeg{MatchID: 7, BetType: domain.BetHome, Price: 2.00},
		domain.CombinationLeg{MatchID: 7, BetType: domain.BetAway, Price: 4.00},
	)

	engine := New(&fakeStore{tx: tx}, nil, nil, testLogger())
	if _, err := engine.SettleMatch(context.Background(), 7); err != nil {
		t.Fatalf("SettleMatch: %v", err)
	}

	combo := tx.combos[comboID]
	if combo.Status != domain.WagerStatusLost {
		t.Errorf("combination status = %s, want lost", combo.Status)
	}
	if len(tx.balances) != 0 {
		t.Errorf("balances = %v, want no credits", tx.balances)
	}
}

func TestSettleCombinationWaitsForOtherMatches(t *testing.T) {
	tx := newFakeTx(finishedMatch(7, 2, 1))
	comboID := tx.addCombo(5, 10,
		domain.CombinationLeg{MatchID: 7, BetType: domain.BetHome, Price: 2.00},
		// Second leg rides on a match that has not finished yet.
		domain.CombinationLeg{MatchID: 8, BetType: domain.BetDraw, Price: 3.20},
	)

	engine := New(&fakeStore{tx: tx}, nil, nil, testLogger())
	sum, err := engine.SettleMatch(context.Background(), 7)
	if err != nil {
		t.Fatalf("SettleMatch: %v", err)
	}

	if sum.LegsResolved != 1 {
		t.Errorf("legs resolved = %d, want 1", sum.LegsResolved)
	}
	if sum.CombosResolved != 0 {
		t.Errorf("combos resolved = %d, want 0", sum.CombosResolved)
	}
	if got := tx.combos[comboID].Status; got != domain.WagerStatusPending {
		t.Errorf("combination status = %s, must stay pending", got)
	}
	if len(tx.balances) != 0 {
		t.Errorf("balances = %v, want no credits yet", tx.balances)
	}
}

func TestSettleCombinationAllRefunded(t *testing.T) {
	tx := newFakeTx(domain.Match{ID: 7, Status: domain.MatchStatusCanceled})
	comboID := tx.addCombo(5, 10,
		domain.CombinationLeg{MatchID: 7, BetType: domain.BetHome, Price: 2.00},
		domain.CombinationLeg{MatchID: 7, BetType: domain.BetOver25, Price: 1.90},
	)

	engine := New(&fakeStore{tx: tx}, nil, nil, testLogger())
	if _, err := engine.SettleMatch(context.Background(), 7); err != nil {
		t.Fatalf("SettleMatch: %v", err)
	}

	combo := tx.combos[comboID]
	if combo.Status != domain.WagerStatusRefunded {
		t.Errorf("combination status = %s, want refunded", combo.Status)
	}
	if !tx.balances[5].Equal(decimal.NewFromFloat(10)) {
		t.Errorf("balance = %s, want the 10 stake back", tx.balances[5])
	}
}

// fakeWagerStore reopens settled rows in the shared transaction state.
type fakeWagerStore struct{ tx *fakeTx }

func (f *fakeWagerStore) ListByMatch(ctx context.Context, matchID int64) ([]domain.Wager, error) {
	return nil, nil
}

func (f *fakeWagerStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Wager, error) {
	return nil, nil
}

func (f *fakeWagerStore) Reopen(ctx context.Context, matchID int64) (int64, error) {
	var n int64
	for _, w := range f.tx.wagers {
		if w.MatchID == matchID && w.Status != domain.WagerStatusPending {
			w.Status = domain.WagerStatusPending
			n++
		}
	}
	return n, nil
}

// fakeCorrector writes the amended row where the settlement tx reads it back.
type fakeCorrector struct{ tx *fakeTx }

func (f *fakeCorrector) Update(ctx context.Context, m domain.Match) error {
	f.tx.match = m
	return nil
}

func TestCorrectAmendsResultAndResettles(t *testing.T) {
	tx := newFakeTx(finishedMatch(7, 1, 1))
	id := tx.addWager(3, domain.BetHome, 10, 18)

	engine := New(&fakeStore{tx: tx}, &fakeWagerStore{tx: tx}, &fakeCorrector{tx: tx}, testLogger())
	if _, err := engine.SettleMatch(context.Background(), 7); err != nil {
		t.Fatalf("SettleMatch: %v", err)
	}
	if got := tx.wagers[id].Status; got != domain.WagerStatusLost {
		t.Fatalf("status after first run = %s, want lost", got)
	}

	sum, err := engine.Correct(context.Background(), finishedMatch(7, 2, 1))
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if sum.WagersWon != 1 {
		t.Errorf("wagers won = %d, want 1", sum.WagersWon)
	}
	if got := tx.wagers[id].Status; got != domain.WagerStatusWon {
		t.Errorf("status after correction = %s, want won", got)
	}
	if got := tx.balances[3]; !got.Equal(decimal.NewFromInt(18)) {
		t.Errorf("balance = %s, want 18", got)
	}
}

func TestCorrectRejectsNonTerminal(t *testing.T) {
	tx := newFakeTx(finishedMatch(7, 1, 1))
	engine := New(&fakeStore{tx: tx}, &fakeWagerStore{tx: tx}, &fakeCorrector{tx: tx}, testLogger())

	m := finishedMatch(7, 1, 1)
	m.Status = domain.MatchStatusLive
	if _, err := engine.Correct(context.Background(), m); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}
