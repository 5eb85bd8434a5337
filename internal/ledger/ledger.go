// Package ledger is the stateful core of the metering pipeline. It answers
// admission-control checks against the monthly quota and commits usage into
// an append-only log plus an atomically-updated monthly aggregate.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/IshanKhanpara/tokenguard1/internal/models"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTokenLimit applies when a plan has no plan_limits row. Missing
// configuration is treated as the free tier rather than an error.
const DefaultTokenLimit = 100_000

// Alert thresholds, in percent of the monthly limit.
const (
	ThresholdWarn  = 80
	ThresholdLimit = 100
)

// Denial reasons returned by Check.
const (
	ReasonSubscriptionInactive = "subscription is not active"
	ReasonLimitExceeded        = "monthly token limit exceeded"
)

// dbTimeout bounds individual datastore round-trips.
const dbTimeout = 5 * time.Second

// AlertTrigger receives threshold-crossing events. Implementations must be
// non-blocking; the ledger never waits on alert delivery.
type AlertTrigger interface {
	Trigger(userID uint64, currentTokens, maxTokens int64, threshold int)
}

// Ledger coordinates quota checks and usage commits against the datastore.
type Ledger struct {
	db     *gorm.DB
	alerts AlertTrigger
	nowFn  func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithNow overrides the clock, for tests exercising month boundaries.
func WithNow(nowFn func() time.Time) Option {
	return func(l *Ledger) { l.nowFn = nowFn }
}

// New constructs a Ledger. The alert trigger may be nil, in which case
// threshold crossings are silently dropped.
func New(db *gorm.DB, alerts AlertTrigger, opts ...Option) *Ledger {
	l := &Ledger{db: db, alerts: alerts, nowFn: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MonthKey formats a timestamp as the canonical "YYYY-MM" month key. Always
// UTC so month boundaries are stable across handlers.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CheckResult reports the outcome of an admission-control check.
type CheckResult struct {
	Allowed      bool
	Reason       string
	CurrentUsage int64
	Limit        int64
	PercentUsed  int
	ShouldWarn   bool
}

// Check decides whether a call reserving tokensToReserve tokens may proceed.
// It is read-mostly and optimistic: concurrent callers can both pass for
// amounts that together exceed the limit; Commit's atomic upsert is the
// consistency guarantee, not this gate.
func (l *Ledger) Check(ctx context.Context, userID uint64, tokensToReserve int64) (CheckResult, error) {
	if l == nil || l.db == nil {
		return CheckResult{}, fmt.Errorf("ledger: not initialized")
	}
	if userID == 0 {
		return CheckResult{}, fmt.Errorf("ledger: missing user id")
	}
	if tokensToReserve < 0 {
		tokensToReserve = 0
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	subscription, errSub := l.loadSubscription(dbCtx, userID)
	if errSub != nil {
		return CheckResult{}, errSub
	}

	limit := l.loadTokenLimit(dbCtx, subscription)
	current := l.loadCurrentUsage(dbCtx, userID)

	percentUsed := percentOf(current, limit)

	if subscription == nil || subscription.Status != models.SubscriptionActive {
		return CheckResult{
			Allowed:      false,
			Reason:       ReasonSubscriptionInactive,
			CurrentUsage: current,
			Limit:        limit,
			PercentUsed:  percentUsed,
		}, nil
	}

	projected := current + tokensToReserve
	projectedPercent := percentOf(projected, limit)

	if projected > limit {
		return CheckResult{
			Allowed:      false,
			Reason:       ReasonLimitExceeded,
			CurrentUsage: current,
			Limit:        limit,
			PercentUsed:  percentUsed,
		}, nil
	}

	// A single large call can jump straight past 80%; warn pre-emptively so
	// the user hears about it before the call is committed. The notifier's
	// idempotency marker absorbs any duplicate with Commit's own trigger.
	if l.alerts != nil && projectedPercent >= ThresholdWarn && percentUsed < ThresholdWarn {
		l.alerts.Trigger(userID, projected, limit, ThresholdWarn)
	}

	return CheckResult{
		Allowed:      true,
		CurrentUsage: current,
		Limit:        limit,
		PercentUsed:  percentUsed,
		ShouldWarn:   percentUsed >= ThresholdWarn && percentUsed < ThresholdLimit,
	}, nil
}

// CommitInput describes one completed metered call.
type CommitInput struct {
	UserID       uint64
	TokensUsed   int64
	CostUSD      float64
	Model        string
	Endpoint     string
	APIKeyID     *string
	InputTokens  int64
	OutputTokens int64
	// ProviderTokens is the authoritative count from the upstream response,
	// recorded for audit but never fed into quota math.
	ProviderTokens *int64
	StatusCode     int
	DurationMS     int64
}

// CommitResult reports the outcome of a commit.
type CommitResult struct {
	Success     bool
	Blocked     bool
	Reason      string
	PercentUsed int
	ShouldWarn  bool
}

// Commit records a completed call. The quota is re-checked with the actual
// token amount first: a commit that would exceed the limit writes nothing.
// The monthly aggregate mutation is a single additive upsert so concurrent
// commits never lose updates.
func (l *Ledger) Commit(ctx context.Context, input CommitInput) (CommitResult, error) {
	if l == nil || l.db == nil {
		return CommitResult{}, fmt.Errorf("ledger: not initialized")
	}
	if input.UserID == 0 {
		return CommitResult{}, fmt.Errorf("ledger: missing user id")
	}
	if input.TokensUsed < 0 {
		return CommitResult{}, fmt.Errorf("ledger: negative token count")
	}

	check, errCheck := l.Check(ctx, input.UserID, input.TokensUsed)
	if errCheck != nil {
		return CommitResult{}, errCheck
	}
	if !check.Allowed {
		return CommitResult{
			Blocked:     true,
			Reason:      check.Reason,
			PercentUsed: check.PercentUsed,
		}, nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	now := l.nowFn().UTC()
	monthYear := MonthKey(now)

	model := input.Model
	if model == "" {
		model = "unknown"
	}

	row := models.UsageLog{
		ID:             uuid.NewString(),
		UserID:         input.UserID,
		TokensUsed:     input.TokensUsed,
		CostUSD:        input.CostUSD,
		InputTokens:    input.InputTokens,
		OutputTokens:   input.OutputTokens,
		ProviderTokens: input.ProviderTokens,
		Model:          model,
		Endpoint:       input.Endpoint,
		APIKeyID:       input.APIKeyID,
		StatusCode:     input.StatusCode,
		DurationMS:     input.DurationMS,
		CreatedAt:      now,
	}

	var newTotal int64
	if errTx := l.db.WithContext(dbCtx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return fmt.Errorf("ledger: append usage log: %w", errCreate)
		}

		aggregate := models.MonthlyUsage{
			UserID:       input.UserID,
			MonthYear:    monthYear,
			TotalTokens:  input.TokensUsed,
			TotalCostUSD: input.CostUSD,
			RequestCount: 1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if errUpsert := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "month_year"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total_tokens":   gorm.Expr("total_tokens + ?", input.TokensUsed),
				"total_cost_usd": gorm.Expr("total_cost_usd + ?", input.CostUSD),
				"request_count":  gorm.Expr("request_count + ?", 1),
				"updated_at":     now,
			}),
		}).Create(&aggregate).Error; errUpsert != nil {
			return fmt.Errorf("ledger: upsert monthly usage: %w", errUpsert)
		}

		var updated models.MonthlyUsage
		if errFind := tx.Where("user_id = ? AND month_year = ?", input.UserID, monthYear).
			Take(&updated).Error; errFind != nil {
			return fmt.Errorf("ledger: reload monthly usage: %w", errFind)
		}
		newTotal = updated.TotalTokens
		return nil
	}); errTx != nil {
		return CommitResult{}, errTx
	}

	if input.APIKeyID != nil {
		l.touchAPIKey(dbCtx, *input.APIKeyID, now)
	}

	previousTotal := newTotal - input.TokensUsed
	previousPercent := percentOf(previousTotal, check.Limit)
	newPercent := percentOf(newTotal, check.Limit)

	if l.alerts != nil {
		for _, threshold := range []int{ThresholdWarn, ThresholdLimit} {
			if previousPercent < threshold && newPercent >= threshold {
				l.alerts.Trigger(input.UserID, newTotal, check.Limit, threshold)
			}
		}
	}

	return CommitResult{
		Success:     true,
		PercentUsed: newPercent,
		ShouldWarn:  newPercent >= ThresholdWarn && newPercent < ThresholdLimit,
	}, nil
}

// loadSubscription returns the user's subscription, or nil when none exists.
func (l *Ledger) loadSubscription(ctx context.Context, userID uint64) (*models.Subscription, error) {
	var subscription models.Subscription
	errFind := l.db.WithContext(ctx).Where("user_id = ?", userID).Take(&subscription).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: load subscription: %w", errFind)
	}
	return &subscription, nil
}

// loadTokenLimit resolves the monthly token limit for the subscription's
// plan, falling back to the free-tier default when configuration is missing.
func (l *Ledger) loadTokenLimit(ctx context.Context, subscription *models.Subscription) int64 {
	plan := models.PlanFree
	if subscription != nil && subscription.Plan != "" {
		plan = subscription.Plan
	}

	var planLimit models.PlanLimit
	errFind := l.db.WithContext(ctx).Where("plan = ?", plan).Take(&planLimit).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).WithField("plan", plan).Warn("ledger: plan limit lookup failed, using default")
		}
		return DefaultTokenLimit
	}
	if planLimit.MaxTokensPerMonth <= 0 {
		return DefaultTokenLimit
	}
	return planLimit.MaxTokensPerMonth
}

// loadCurrentUsage returns this month's committed tokens, zero when the row
// does not exist yet.
func (l *Ledger) loadCurrentUsage(ctx context.Context, userID uint64) int64 {
	var usage models.MonthlyUsage
	errFind := l.db.WithContext(ctx).
		Where("user_id = ? AND month_year = ?", userID, MonthKey(l.nowFn())).
		Take(&usage).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).Warn("ledger: monthly usage lookup failed, assuming zero")
		}
		return 0
	}
	return usage.TotalTokens
}

// touchAPIKey refreshes last_used_at. Best-effort: failures are logged and
// never fail the commit.
func (l *Ledger) touchAPIKey(ctx context.Context, keyID string, now time.Time) {
	if errUpdate := l.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", keyID).
		Update("last_used_at", now).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("api_key_id", keyID).Warn("ledger: refresh last_used_at failed")
	}
}

// percentOf computes round(used/limit*100), clamped to sane inputs.
func percentOf(used, limit int64) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Round(float64(used) / float64(limit) * 100))
}
