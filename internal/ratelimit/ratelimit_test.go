package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IshanKhanpara/tokenguard1/internal/config"
	"github.com/IshanKhanpara/tokenguard1/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.Subscription{}, &models.PlanLimit{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestAllowFixedWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := New(Settings{}, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := limiter.Allow(ctx, 7, 3)
		if !result.Allowed {
			t.Fatalf("request %d: denied, want allowed", i+1)
		}
		if result.Remaining != 3-(i+1) {
			t.Fatalf("request %d: remaining = %d, want %d", i+1, result.Remaining, 3-(i+1))
		}
	}

	result := limiter.Allow(ctx, 7, 3)
	if result.Allowed {
		t.Fatal("4th request in the same second allowed, want denied")
	}
	if result.Remaining != 0 {
		t.Fatalf("denied result remaining = %d, want 0", result.Remaining)
	}
	if got, want := result.ResetAt, time.Unix(1_700_000_001, 0).UTC(); !got.Equal(want) {
		t.Fatalf("ResetAt = %v, want %v", got, want)
	}

	// Next second opens a fresh window.
	now = now.Add(time.Second)
	if result := limiter.Allow(ctx, 7, 3); !result.Allowed {
		t.Fatal("request in next window denied, want allowed")
	}
}

func TestAllowUsersAreIndependent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := New(Settings{}, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	if result := limiter.Allow(ctx, 1, 1); !result.Allowed {
		t.Fatal("user 1 first request denied")
	}
	if result := limiter.Allow(ctx, 1, 1); result.Allowed {
		t.Fatal("user 1 second request allowed, want denied")
	}
	if result := limiter.Allow(ctx, 2, 1); !result.Allowed {
		t.Fatal("user 2 throttled by user 1's window")
	}
}

func TestAllowZeroLimitIsUnlimited(t *testing.T) {
	limiter := New(Settings{})
	for i := 0; i < 50; i++ {
		if result := limiter.Allow(context.Background(), 9, 0); !result.Allowed {
			t.Fatalf("request %d denied with zero limit", i+1)
		}
	}
	var nilLimiter *PerUserLimiter
	if result := nilLimiter.Allow(context.Background(), 9, 1); !result.Allowed {
		t.Fatal("nil limiter denied a request")
	}
}

func TestAllowFallsBackWhenRedisUnavailable(t *testing.T) {
	// Nothing listens on this address, so the first Redis command fails and
	// the limiter must keep enforcing with in-process windows.
	now := time.Unix(1_700_000_000, 0)
	limiter := New(Settings{
		RedisEnabled: true,
		RedisAddr:    "127.0.0.1:1",
	}, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	if result := limiter.Allow(ctx, 5, 1); !result.Allowed {
		t.Fatal("first request denied, want allowed via memory fallback")
	}
	if limiter.redisHealthy(now) {
		t.Fatal("redis still marked healthy after a failed command")
	}
	if result := limiter.Allow(ctx, 5, 1); result.Allowed {
		t.Fatal("second request in the same second allowed, want denied")
	}

	// After the cooldown the limiter tries Redis again.
	if !limiter.redisHealthy(now.Add(redisRetryCooldown + time.Second)) {
		t.Fatal("redis not retried after cooldown")
	}
}

func TestMemoryWindowSweepsStaleUsers(t *testing.T) {
	w := newMemoryWindow()
	base := time.Unix(1_700_000_000, 0)

	if _, err := w.take(context.Background(), 1, 5, base); err != nil {
		t.Fatalf("take: %v", err)
	}
	if _, err := w.take(context.Background(), 2, 5, base.Add(5*time.Second)); err != nil {
		t.Fatalf("take: %v", err)
	}

	w.mu.Lock()
	_, staleKept := w.windows[1]
	_, freshKept := w.windows[2]
	w.mu.Unlock()
	if staleKept {
		t.Fatal("window for user 1 survived the sweep")
	}
	if !freshKept {
		t.Fatal("window for user 2 missing")
	}
}

func TestFromConfigDefaults(t *testing.T) {
	settings := FromConfig(config.RedisConfig{Enabled: true, Addr: " 127.0.0.1:6379 "})
	if !settings.RedisEnabled {
		t.Fatal("RedisEnabled not carried over")
	}
	if settings.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("RedisAddr = %q, want trimmed address", settings.RedisAddr)
	}
	if settings.RedisPrefix != DefaultRedisPrefix {
		t.Fatalf("RedisPrefix = %q, want %q", settings.RedisPrefix, DefaultRedisPrefix)
	}

	settings = FromConfig(config.RedisConfig{Prefix: "custom"})
	if settings.RedisPrefix != "custom" {
		t.Fatalf("RedisPrefix = %q, want custom", settings.RedisPrefix)
	}
}

func TestResolveLimitFromPlan(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	if err := conn.Create(&models.PlanLimit{Plan: models.PlanFree, MaxTokensPerMonth: 100_000, RateLimit: 2}).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	if err := conn.Create(&models.PlanLimit{Plan: models.PlanPro, MaxTokensPerMonth: 2_000_000, RateLimit: 10}).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	if err := conn.Create(&models.Subscription{UserID: 42, Plan: models.PlanPro, Status: models.SubscriptionActive}).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	limit, err := ResolveLimit(ctx, conn, 42, 4)
	if err != nil {
		t.Fatalf("ResolveLimit: %v", err)
	}
	if limit != 10 {
		t.Fatalf("limit = %d, want pro plan rate 10", limit)
	}

	// No subscription row resolves through the free plan.
	limit, err = ResolveLimit(ctx, conn, 43, 4)
	if err != nil {
		t.Fatalf("ResolveLimit: %v", err)
	}
	if limit != 2 {
		t.Fatalf("limit = %d, want free plan rate 2", limit)
	}

	// Unknown plan row falls through to the caller's fallback.
	if err := conn.Create(&models.Subscription{UserID: 44, Plan: "legacy", Status: models.SubscriptionActive}).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	limit, err = ResolveLimit(ctx, conn, 44, 4)
	if err != nil {
		t.Fatalf("ResolveLimit: %v", err)
	}
	if limit != 4 {
		t.Fatalf("limit = %d, want fallback 4", limit)
	}
}
