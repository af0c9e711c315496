package source

import (
	"context"
	"testing"
	"time"

	"github.com/vborovik/oddskeeper/internal/domain"
)

type stubLimiter struct {
	denials int // Allow returns false this many times, then true
	calls   int
	keys    []string
	limits  []int
}

func (l *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.calls++
	l.keys = append(l.keys, key)
	l.limits = append(l.limits, limit)
	if l.denials > 0 {
		l.denials--
		return false, nil
	}
	return true, nil
}

type stubSource struct {
	name    string
	fetches int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context) ([]domain.Snapshot, error) {
	s.fetches++
	return []domain.Snapshot{{HomeTeam: "A", AwayTeam: "B"}}, nil
}

func TestThrottleDelegatesWhenAllowed(t *testing.T) {
	src := &stubSource{name: "oddsfeed"}
	limiter := &stubLimiter{}
	th := Throttle(src, limiter, 30)

	batch, err := th.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(batch) != 1 || src.fetches != 1 {
		t.Errorf("batch = %v, fetches = %d", batch, src.fetches)
	}
	if limiter.keys[0] != "oddsfeed" || limiter.limits[0] != 30 {
		t.Errorf("limiter called with (%q, %d), want (oddsfeed, 30)", limiter.keys[0], limiter.limits[0])
	}
}

func TestThrottleBlocksUntilAdmitted(t *testing.T) {
	src := &stubSource{name: "oddsfeed"}
	limiter := &stubLimiter{denials: 1}
	th := Throttle(src, limiter, 30)

	if _, err := th.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if limiter.calls != 2 {
		t.Errorf("limiter calls = %d, want a retry after the denial", limiter.calls)
	}
	if src.fetches != 1 {
		t.Errorf("fetches = %d, the upstream fetch must wait for admission", src.fetches)
	}
}

func TestThrottleHonorsContext(t *testing.T) {
	src := &stubSource{name: "oddsfeed"}
	limiter := &stubLimiter{denials: 1 << 30}
	th := Throttle(src, limiter, 30)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := th.Fetch(ctx); err == nil {
		t.Error("Fetch ignored context cancellation while throttled")
	}
	if src.fetches != 0 {
		t.Errorf("fetches = %d, want 0", src.fetches)
	}
}
