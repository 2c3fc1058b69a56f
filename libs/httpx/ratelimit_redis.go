package httpx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares one fixed window per key across every replica.
type RedisLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

// countScript increments the window counter, starting its expiry on first use, and reports
// the count together with the milliseconds left in the window.
var countScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

func NewRedisLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string) *RedisLimiter {
	l := &RedisLimiter{rdb: rdb, limit: limit, window: window, prefix: strings.TrimSpace(prefix)}
	if l.limit <= 0 {
		l.limit = 60
	}
	if l.window <= 0 {
		l.window = time.Minute
	}
	if l.prefix == "" {
		l.prefix = "rl"
	}
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Quota, error) {
	vals, err := countScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Quota{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Quota{}, fmt.Errorf("rate limit %s: unexpected script reply %v", key, vals)
	}
	reset := time.Duration(vals[1]) * time.Millisecond
	if reset < 0 {
		reset = l.window
	}
	return quota(l.limit, vals[0], reset), nil
}
