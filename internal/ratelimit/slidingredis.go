package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript trims the window, admits the event only when under limit and
// reports when the oldest admitted event leaves the window. Rejected events
// are not recorded, so hammering a limited key does not extend the block.
var slidingScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < limit then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', KEYS[1], window)
local reset = now + window
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, limit - count, reset}
`)

// Sliding is a sliding-window limiter over Redis sorted sets, scored in
// milliseconds.
type Sliding struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Allow registers an event for key and reports whether it is within the limit.
func (l Sliding) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, int, time.Time, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || limit <= 0 || window <= 0 {
		return true, limit, now.Add(window), nil
	}

	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, now.Add(window), fmt.Errorf("sliding limiter: %w", err)
	}
	if len(res) != 3 {
		return false, 0, now.Add(window), fmt.Errorf("sliding limiter: unexpected reply %v", res)
	}
	return res[0] == 1, int(max(res[1], 0)), time.UnixMilli(res[2]), nil
}
