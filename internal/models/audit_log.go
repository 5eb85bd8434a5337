package models

import (
	"time"

	"gorm.io/datatypes"
)

// Audit actions recorded by the metering core.
const (
	// AuditTargetRejected records an outbound URL blocked by the allowlist.
	AuditTargetRejected = "proxy_target_rejected"
	// AuditKeyDecryptFailed records a stored key that failed to decrypt.
	AuditKeyDecryptFailed = "api_key_decrypt_failed"
)

// AuditLog records security-relevant events for later review.
type AuditLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Action string `gorm:"type:text;not null;index"` // Event identifier.
	UserID uint64 `gorm:"not null;index"`           // Acting user ID.

	Detail datatypes.JSON `gorm:"type:jsonb"` // Event-specific payload.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
