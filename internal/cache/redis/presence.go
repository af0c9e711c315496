package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vborovik/oddskeeper/internal/domain"
)

// presenceTTL bounds how long miss counters survive without any Observe call,
// so a stopped monitor does not leave tracking state behind forever.
const presenceTTL = 24 * time.Hour

// PresenceTracker implements domain.PresenceTracker using a Redis hash per
// source. Each field is a live match id; its value is the number of
// consecutive polling cycles the id has been missing from the feed. Counters
// survive process restarts, so a redeploy mid-absence still finalizes on
// schedule.
type PresenceTracker struct {
	rdb       *redis.Client
	threshold int64
}

// NewPresenceTracker creates a PresenceTracker backed by the given Client.
// threshold is the number of consecutive missing cycles after which a match
// is reported for finalization; values below 1 default to 2.
func NewPresenceTracker(c *Client, threshold int) *PresenceTracker {
	if threshold < 1 {
		threshold = 2
	}
	return &PresenceTracker{rdb: c.Underlying(), threshold: int64(threshold)}
}

func presenceKey(source string) string {
	return "presence:" + source
}

// Observe resets the counter of every id seen this cycle and bumps the
// counter of every live id absent from the batch. It returns the ids whose
// consecutive miss count has reached the threshold.
func (pt *PresenceTracker) Observe(ctx context.Context, source string, seen []int64, live []int64) ([]int64, error) {
	key := presenceKey(source)

	seenSet := make(map[int64]struct{}, len(seen))
	for _, id := range seen {
		seenSet[id] = struct{}{}
	}

	pipe := pt.rdb.Pipeline()

	seenFields := make([]string, 0, len(seen))
	for _, id := range seen {
		seenFields = append(seenFields, strconv.FormatInt(id, 10))
	}
	if len(seenFields) > 0 {
		pipe.HDel(ctx, key, seenFields...)
	}

	incrs := make(map[int64]*redis.IntCmd)
	for _, id := range live {
		if _, ok := seenSet[id]; ok {
			continue
		}
		incrs[id] = pipe.HIncrBy(ctx, key, strconv.FormatInt(id, 10), 1)
	}
	pipe.Expire(ctx, key, presenceTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: observe presence %s: %w", source, err)
	}

	var due []int64
	for id, cmd := range incrs {
		misses, err := cmd.Result()
		if err != nil {
			continue
		}
		if misses >= pt.threshold {
			due = append(due, id)
		}
	}
	return due, nil
}

// Forget drops tracking state for a match that left the live set.
func (pt *PresenceTracker) Forget(ctx context.Context, source string, id int64) error {
	if err := pt.rdb.HDel(ctx, presenceKey(source), strconv.FormatInt(id, 10)).Err(); err != nil {
		return fmt.Errorf("redis: forget presence %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PresenceTracker = (*PresenceTracker)(nil)
