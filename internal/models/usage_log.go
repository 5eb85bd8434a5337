package models

import "time"

// UsageLog is the immutable record of a single metered call. Rows are
// append-only; retention and export are external concerns.
type UsageLog struct {
	ID string `gorm:"type:uuid;primaryKey"` // Row UUID.

	UserID uint64 `gorm:"not null;index:idx_usage_logs_user_created"` // Owning user ID.

	TokensUsed int64   `gorm:"not null"`                   // Estimated tokens charged against the quota.
	CostUSD    float64 `gorm:"type:decimal(20,10);not null"` // Estimated cost in USD.

	InputTokens  int64 `gorm:"not null;default:0"` // Request-side estimate.
	OutputTokens int64 `gorm:"not null;default:0"` // Response-side estimate.

	// ProviderTokens carries the authoritative total reported by the upstream
	// response when it exposed one. Informational only; quota math always uses
	// TokensUsed.
	ProviderTokens *int64 `gorm:"type:bigint"`

	Model    string `gorm:"type:text"`          // Declared model, "unknown" when absent.
	Endpoint string `gorm:"type:text"`          // Target URL of the proxied call.
	APIKeyID *string `gorm:"type:uuid;index"`   // Stored key used, if any.

	StatusCode int   `gorm:"not null;default:0"` // Upstream HTTP status.
	DurationMS int64 `gorm:"not null;default:0"` // Upstream latency in milliseconds.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_usage_logs_user_created"` // Creation timestamp.
}
