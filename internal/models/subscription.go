package models

import "time"

// Plan identifiers known to the quota system.
const (
	// PlanFree is the default plan assigned on signup.
	PlanFree = "free"
	// PlanPro is the paid individual plan.
	PlanPro = "pro"
	// PlanTeam is the paid team plan.
	PlanTeam = "team"
)

// Subscription lifecycle states. Any state other than active fails quota
// checks closed.
const (
	// SubscriptionActive allows metered calls.
	SubscriptionActive = "active"
	// SubscriptionTrialing marks an unconverted trial.
	SubscriptionTrialing = "trialing"
	// SubscriptionPastDue marks a failed renewal payment.
	SubscriptionPastDue = "past_due"
	// SubscriptionCancelled marks a cancelled subscription.
	SubscriptionCancelled = "cancelled"
	// SubscriptionPaused marks a paused subscription.
	SubscriptionPaused = "paused"
)

// Subscription records a user's plan and billing status. Exactly one row per
// user; mutated by billing webhooks and admin actions, never hard-deleted.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user ID.

	Plan   string `gorm:"type:text;not null;default:free"`   // Plan identifier.
	Status string `gorm:"type:text;not null;default:active"` // Lifecycle status.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
