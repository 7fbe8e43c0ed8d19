// Package ratelimit enforces per-API-key request limits in front of the
// check pipeline. The limiter is a sliding window over a Redis sorted set:
// each allowed request becomes one member scored by its arrival time, so
// the window edge moves continuously instead of resetting on minute
// boundaries.
package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vigil:rl:"

// LimitResult reports one window check. ResetAt is when the oldest entry
// in the window falls out, i.e. the earliest instant a denied caller can
// expect a free slot.
type LimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter checks sliding-window limits against Redis. A nil client makes
// every check pass: losing Redis degrades the gate to unlimited, it never
// takes the check endpoint down.
type Limiter struct {
	rdb *redis.Client
	now func() time.Time // test seam
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// windowScript trims entries older than the window, admits the request if
// the set is under the limit, and reports the oldest surviving entry so
// the caller can compute an accurate reset time.
//
// KEYS[1] sorted set for this key
// ARGV[1] window start (unix micro, exclusive)
// ARGV[2] arrival time (unix micro, the member score)
// ARGV[3] limit
// ARGV[4] key TTL in seconds
// ARGV[5] member (unique per request, generated by the caller)
//
// Returns {count_after, admitted, oldest_score} with oldest_score 0 when
// the set is empty.
var windowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
local admitted = 0

if count < tonumber(ARGV[3]) then
    redis.call('ZADD', KEYS[1], ARGV[2], ARGV[5])
    count = count + 1
    admitted = 1
end
redis.call('EXPIRE', KEYS[1], ARGV[4])

local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #oldest == 0 then
    return {count, admitted, 0}
end
return {count, admitted, tonumber(oldest[2])}
`)

// Check admits or denies one request against the key's window. Redis
// errors fail open: the request is admitted and Remaining reports the
// full limit, because a degraded limiter must not guess at state it
// cannot see.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (LimitResult, error) {
	now := l.now()
	if l.rdb == nil {
		return openResult(limit-1, now, window), nil
	}

	vals, err := windowScript.Run(ctx, l.rdb, []string{keyPrefix + key},
		now.Add(-window).UnixMicro(),
		now.UnixMicro(),
		limit,
		int64(window.Seconds())+1,
		member(now),
	).Int64Slice()
	if err != nil || len(vals) != 3 {
		return openResult(limit, now, window), nil
	}

	count, admitted, oldest := vals[0], vals[1] == 1, vals[2]

	res := LimitResult{
		Allowed:   admitted,
		Remaining: max(limit-count, 0),
		ResetAt:   resetTime(oldest, now, window),
	}
	if !admitted {
		res.RetryAfter = res.ResetAt.Sub(now)
	}
	return res, nil
}

// resetTime places the window reset at the expiry of the oldest entry.
// With no entries in the set the window is empty and resets a full
// window from now.
func resetTime(oldestMicro int64, now time.Time, window time.Duration) time.Time {
	if oldestMicro == 0 {
		return now.Add(window)
	}
	return time.UnixMicro(oldestMicro).Add(window)
}

// member builds a set member unique across concurrent requests landing on
// the same microsecond.
func member(now time.Time) string {
	var buf [4]byte
	rand.Read(buf[:])
	return now.Format("20060102T150405.000000") + ":" + hex.EncodeToString(buf[:])
}

func openResult(remaining int64, now time.Time, window time.Duration) LimitResult {
	return LimitResult{Allowed: true, Remaining: remaining, ResetAt: now.Add(window)}
}
