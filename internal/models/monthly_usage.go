package models

import "time"

// MonthlyUsage aggregates a user's metered calls for one calendar month.
// Rows are created lazily on the first commit of a month and mutated only by
// additive atomic upserts; total_tokens never decreases within a month.
type MonthlyUsage struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID    uint64 `gorm:"not null;uniqueIndex:idx_monthly_usage_user_month"`           // Owning user ID.
	MonthYear string `gorm:"type:text;not null;uniqueIndex:idx_monthly_usage_user_month"` // Calendar month, "YYYY-MM" in UTC.

	TotalTokens  int64   `gorm:"not null;default:0"`                    // Tokens committed this month.
	TotalCostUSD float64 `gorm:"type:decimal(20,10);not null;default:0"` // Cost committed this month.
	RequestCount int64   `gorm:"not null;default:0"`                    // Successful commits this month.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName keeps the aggregate table singular.
func (MonthlyUsage) TableName() string {
	return "monthly_usage"
}
