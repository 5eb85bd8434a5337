// Package ratelimit enforces per-user requests-per-second caps in front of
// the metered proxy. Each user's cap comes from their plan (see ResolveLimit);
// counting happens in fixed one-second windows, in Redis when configured and
// healthy, otherwise in process memory.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// redisRetryCooldown is how long the limiter counts in memory after a Redis
// failure before trying Redis again.
const redisRetryCooldown = 30 * time.Second

// Result reports one admission decision together with the window state the
// caller needs for X-RateLimit response headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// window counts one request against a user's current one-second window.
type window interface {
	take(ctx context.Context, userID uint64, limit int, now time.Time) (Result, error)
}

// PerUserLimiter admits or rejects requests per user. A nil limiter allows
// everything, as does a non-positive limit.
type PerUserLimiter struct {
	memory *memoryWindow
	redis  window // nil when Redis is not configured
	nowFn  func() time.Time

	mu             sync.Mutex
	redisDownUntil time.Time
}

// Option customizes a PerUserLimiter.
type Option func(*PerUserLimiter)

// WithNow overrides the limiter clock. Used by tests.
func WithNow(fn func() time.Time) Option {
	return func(l *PerUserLimiter) {
		if fn != nil {
			l.nowFn = fn
		}
	}
}

// New builds a limiter from settings. The Redis client connects lazily; the
// first failed command trips the fallback to in-process counting.
func New(settings Settings, opts ...Option) *PerUserLimiter {
	l := &PerUserLimiter{
		memory: newMemoryWindow(),
		nowFn:  time.Now,
	}
	if settings.RedisEnabled && strings.TrimSpace(settings.RedisAddr) != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
			DB:       settings.RedisDB,
		})
		l.redis = newRedisWindow(client, settings.RedisPrefix)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one request for userID against limit and reports whether it
// may proceed. Errors from Redis are absorbed: the limiter falls back to
// memory and retries Redis after a cooldown.
func (l *PerUserLimiter) Allow(ctx context.Context, userID uint64, limit int) Result {
	if l == nil || userID == 0 || limit <= 0 {
		return Result{Allowed: true, Limit: limit}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := l.nowFn()

	if l.redis != nil && l.redisHealthy(now) {
		result, errTake := l.redis.take(ctx, userID, limit, now)
		if errTake == nil {
			return result
		}
		l.markRedisDown(errTake, now)
	}

	result, errTake := l.memory.take(ctx, userID, limit, now)
	if errTake != nil {
		// The memory window cannot actually fail; fail open if it ever does.
		log.WithError(errTake).Error("rate limit: memory window failed")
		return Result{Allowed: true, Limit: limit}
	}
	return result
}

func (l *PerUserLimiter) redisHealthy(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.redisDownUntil.IsZero() {
		return true
	}
	if now.Before(l.redisDownUntil) {
		return false
	}
	l.redisDownUntil = time.Time{}
	return true
}

func (l *PerUserLimiter) markRedisDown(err error, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.redisDownUntil.IsZero() && now.Before(l.redisDownUntil) {
		return
	}
	l.redisDownUntil = now.Add(redisRetryCooldown)
	log.WithError(err).Warn("rate limit: redis unavailable, counting in process memory")
}
