package ratelimit

import (
	"context"
	"fmt"
	"time"

	limiter "github.com/ulule/limiter/v3"
)

// Fixed is a fixed-window limiter backed by a ulule/limiter store.
type Fixed struct {
	Store limiter.Store
}

// Allow registers an event for key and reports whether it is within the limit.
func (f Fixed) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, int, time.Time, error) {
	if f.Store == nil || limit <= 0 || window <= 0 {
		return true, limit, time.Now().Add(window), nil
	}
	lim := limiter.New(f.Store, limiter.Rate{Period: window, Limit: int64(limit)})
	res, err := lim.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), fmt.Errorf("fixed limiter: %w", err)
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
