package models

import "time"

// User mirrors the identity provider's subject registry. Rows are created by
// the signup flow; the metering core only ever reads them.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key, matches the JWT subject.

	Email    string `gorm:"type:text;not null;uniqueIndex"` // Email address.
	FullName string `gorm:"type:text"`                      // Display name.

	Active bool `gorm:"not null;default:true"` // Whether the account can authenticate.

	Subscription *Subscription `gorm:"foreignKey:UserID"` // Related subscription row.
	APIKeys      []APIKey      `gorm:"foreignKey:UserID"` // Related provider API keys.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
