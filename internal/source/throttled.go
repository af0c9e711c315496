package source

import (
	"context"
	"time"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// throttlePollInterval is how often a blocked Fetch re-checks the limiter.
const throttlePollInterval = 250 * time.Millisecond

// Throttled wraps a snapshot source with a shared rate limit, so several
// monitor processes polling the same upstream stay under its request budget.
type Throttled struct {
	src       domain.SnapshotSource
	limiter   domain.RateLimiter
	perMinute int
}

// Throttle decorates src with the given limiter, capped at perMinute fetches
// per minute. The limiter key is the source name.
func Throttle(src domain.SnapshotSource, limiter domain.RateLimiter, perMinute int) *Throttled {
	return &Throttled{src: src, limiter: limiter, perMinute: perMinute}
}

// Name identifies the underlying source.
func (t *Throttled) Name() string { return t.src.Name() }

// Fetch blocks until the shared limiter admits the request, then delegates.
func (t *Throttled) Fetch(ctx context.Context) ([]domain.Snapshot, error) {
	for {
		allowed, err := t.limiter.Allow(ctx, t.src.Name(), t.perMinute, time.Minute)
		if err != nil {
			return nil, err
		}
		if allowed {
			break
		}

		timer := time.NewTimer(throttlePollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return t.src.Fetch(ctx)
}
