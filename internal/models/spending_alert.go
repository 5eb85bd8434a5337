package models

import "time"

// SpendingAlert is the idempotency marker for threshold notifications. At
// most one row exists per (user, month, threshold); its presence is the sole
// source of truth for "already notified". The unique index makes racing
// inserts collapse to a single winner.
type SpendingAlert struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID    uint64 `gorm:"not null;uniqueIndex:idx_spending_alerts_key"`           // Alerted user ID.
	MonthYear string `gorm:"type:text;not null;uniqueIndex:idx_spending_alerts_key"` // Calendar month, "YYYY-MM" in UTC.
	Threshold int    `gorm:"not null;uniqueIndex:idx_spending_alerts_key"`           // Crossed threshold percent (80 or 100).

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
