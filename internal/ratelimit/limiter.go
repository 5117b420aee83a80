// Package ratelimit implements a per-destination token bucket with an
// in-flight cap, enforced in Redis via a single Lua script so the
// check-and-consume is atomic under concurrent workers.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"webhookhub/internal/types"
)

const script = `
local rl = KEYS[1]; local infl = KEYS[2]
local now = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local rps = tonumber(ARGV[3])
local max_inflight = tonumber(ARGV[4])

local t = redis.call('HMGET', rl, 'tokens', 'ts')
local tokens = tonumber(t[1]) or burst
local ts = tonumber(t[2]) or now
local delta = math.max(0, now - ts)
local refill = delta * rps / 1000.0
tokens = math.min(burst, tokens + refill)

local inflight = tonumber(redis.call('GET', infl)) or 0

if inflight >= max_inflight then
  return {0, 100}
end

if tokens >= 1.0 then
  tokens = tokens - 1.0
  redis.call('HMSET', rl, 'tokens', tokens, 'ts', now)
  redis.call('PEXPIRE', rl, 60000)
  redis.call('INCR', infl)
  redis.call('PEXPIRE', infl, 60000)
  return {1, 0}
else
  local need = 1.0 - tokens
  local wait_ms = math.ceil(1000.0 * need / rps)
  redis.call('HMSET', rl, 'tokens', tokens, 'ts', now)
  redis.call('PEXPIRE', rl, 60000)
  return {0, wait_ms}
end
`

// Limiter enforces a token-bucket rate limit plus an in-flight cap, keyed
// by destination UUID. Destinations with MaxRPS or Burst set to zero or
// below (the column defaults are 5 and 10) bypass Redis entirely rather
// than feeding a zero rps into the script's division: such a destination
// is treated as unlimited, not as a zero-token bucket that can never
// refill.
type Limiter struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Limiter { return &Limiter{rdb: rdb} }

// Allow tries to consume a token and increment the in-flight counter for
// dest. Returns allowed, the suggested wait in milliseconds when not
// allowed, and any Redis error.
func (l *Limiter) Allow(ctx context.Context, dest types.Destination) (bool, int64, error) {
	if dest.MaxRPS <= 0 || dest.Burst <= 0 {
		return true, 0, nil
	}
	rlKey := "rl:" + dest.ID
	ifKey := "if:" + dest.ID
	now := time.Now().UnixMilli()
	maxInflight := dest.MaxInflight
	if maxInflight <= 0 {
		maxInflight = dest.Burst
	}
	res, err := l.rdb.Eval(ctx, script, []string{rlKey, ifKey}, now, dest.Burst, dest.MaxRPS, maxInflight).Result()
	if err != nil {
		return false, 0, err
	}
	arr := res.([]interface{})
	allowed := arr[0].(int64) == 1
	wait := arr[1].(int64)
	return allowed, wait, nil
}

// Done releases the in-flight slot claimed by a prior successful Allow.
// A no-op for destinations Allow bypassed (no tuning configured), since
// those never incremented the in-flight counter.
func (l *Limiter) Done(ctx context.Context, dest types.Destination) {
	if dest.MaxRPS <= 0 || dest.Burst <= 0 {
		return
	}
	ifKey := "if:" + dest.ID
	_ = l.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Get(ctx, ifKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if n <= 0 {
			return tx.Del(ctx, ifKey).Err()
		}
		pipe := tx.TxPipeline()
		pipe.Decr(ctx, ifKey)
		_, err = pipe.Exec(ctx)
		return err
	}, ifKey)
}
