package models

import (
	"time"

	"gorm.io/datatypes"
)

// AdminNotification types emitted by the metering core.
const (
	// NotificationUsageWarning marks a user crossing 80% of their quota.
	NotificationUsageWarning = "usage_warning"
	// NotificationUsageLimitReached marks a user hitting 100% of their quota.
	NotificationUsageLimitReached = "usage_limit_reached"
)

// AdminNotification surfaces noteworthy events in the admin panel feed.
type AdminNotification struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Type    string `gorm:"type:text;not null;index"` // Notification type.
	Title   string `gorm:"type:text;not null"`       // Short headline.
	Message string `gorm:"type:text;not null"`       // Human-readable detail.

	Data datatypes.JSON `gorm:"type:jsonb"` // Structured payload for the UI.

	ReadAt *time.Time // When an admin dismissed it.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
