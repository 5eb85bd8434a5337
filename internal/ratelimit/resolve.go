package ratelimit

import (
	"context"
	"errors"

	"github.com/IshanKhanpara/tokenguard1/internal/models"
	"gorm.io/gorm"
)

// ResolveLimit resolves a user's requests-per-second cap from their plan.
// Resolution order: plan_limits.rate_limit for the subscription's plan, then
// the configured fallback. Zero means no limit is enforced.
func ResolveLimit(ctx context.Context, db *gorm.DB, userID uint64, fallback int) (int, error) {
	if db == nil || userID == 0 {
		return fallback, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	plan := models.PlanFree
	var subscription models.Subscription
	errSub := db.WithContext(ctx).
		Model(&models.Subscription{}).
		Select("plan").
		Where("user_id = ?", userID).
		Take(&subscription).Error
	if errSub != nil {
		if !errors.Is(errSub, gorm.ErrRecordNotFound) {
			return 0, errSub
		}
	} else if subscription.Plan != "" {
		plan = subscription.Plan
	}

	var planLimit models.PlanLimit
	errPlan := db.WithContext(ctx).
		Model(&models.PlanLimit{}).
		Select("rate_limit").
		Where("plan = ?", plan).
		Take(&planLimit).Error
	if errPlan != nil {
		if errors.Is(errPlan, gorm.ErrRecordNotFound) {
			return fallback, nil
		}
		return 0, errPlan
	}
	if planLimit.RateLimit > 0 {
		return planLimit.RateLimit, nil
	}
	return fallback, nil
}
