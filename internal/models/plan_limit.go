package models

import (
	"time"

	"gorm.io/datatypes"
)

// PlanLimit holds the static per-plan configuration consumed by the quota
// system. Rows are owned by billing/admin configuration and read-only here.
type PlanLimit struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Plan string `gorm:"type:text;not null;uniqueIndex"` // Plan identifier.

	MaxTokensPerMonth int64   `gorm:"not null"`                              // Monthly token allowance.
	MaxAPIKeys        int     `gorm:"not null;default:1"`                    // Stored provider key cap.
	PriceUSD          float64 `gorm:"type:decimal(10,2);not null;default:0"` // Monthly price.
	RateLimit         int     `gorm:"not null;default:0"`                    // Requests per second, 0 = unlimited.

	Features datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Feature flag list.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
