package models

import "time"

// APIKey stores a user-owned provider credential. The plaintext key exists
// only transiently in memory around a single outbound call; at rest the
// record holds the AES-GCM ciphertext with its nonce embedded.
type APIKey struct {
	ID string `gorm:"type:uuid;primaryKey"` // Row UUID.

	UserID uint64 `gorm:"not null;index:idx_api_keys_user_created"` // Owning user ID.

	Name     string `gorm:"type:text;not null"`            // User-chosen label.
	Provider string `gorm:"type:text;not null;default:openai"` // Provider identifier.

	EncryptedKey string `gorm:"type:text;not null"` // "ivhex:cipherhex" record.
	KeyHint      string `gorm:"type:text;not null"` // Last four plaintext characters, for display.

	IsActive   bool       `gorm:"not null;default:true"` // Whether the key may be used.
	LastUsedAt *time.Time // Refreshed on decrypt-for-use, best-effort.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_api_keys_user_created"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`                                 // Last update timestamp.
}
