package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowTTLMillis keeps each window key alive for two seconds so stale
// windows evict themselves without a cleanup job.
const windowTTLMillis = 2000

// takeScript counts the request and answers allowed/remaining in a single
// round trip. KEYS[1] is the user's window key, ARGV[1] the limit, ARGV[2]
// the key TTL in milliseconds.
var takeScript = redis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local limit = tonumber(ARGV[1])
if used > limit then
  return {0, 0}
end
return {1, limit - used}
`)

// redisWindow counts per-user windows in Redis so the cap holds across
// replicas. Keys are <prefix>:u:<user>:<unix-second>.
type redisWindow struct {
	client *redis.Client
	prefix string
}

func newRedisWindow(client *redis.Client, prefix string) *redisWindow {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &redisWindow{client: client, prefix: prefix}
}

func (w *redisWindow) take(ctx context.Context, userID uint64, limit int, now time.Time) (Result, error) {
	sec := now.Unix()
	key := fmt.Sprintf("%s:u:%d:%d", w.prefix, userID, sec)
	resetAt := time.Unix(sec+1, 0).UTC()

	raw, errRun := takeScript.Run(ctx, w.client, []string{key}, limit, windowTTLMillis).Result()
	if errRun != nil {
		return Result{}, errRun
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return Result{}, fmt.Errorf("rate limit: unexpected script reply %T", raw)
	}
	allowed, okAllowed := vals[0].(int64)
	remaining, okRemaining := vals[1].(int64)
	if !okAllowed || !okRemaining {
		return Result{}, fmt.Errorf("rate limit: unexpected script reply values %v", vals)
	}
	return Result{
		Allowed:   allowed == 1,
		Limit:     limit,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}, nil
}
