package models

import "time"

// User is a store customer or administrator.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;default:'';index"` // Display / login name.
	Phone    string `gorm:"type:text;not null;default:'';index"` // Contact phone number.
	Email    string `gorm:"type:text;not null;uniqueIndex"`      // Unique login email, lowercased.
	Password string `gorm:"type:text;not null"`                  // Bcrypt hash.
	Avatar   string `gorm:"type:text;not null;default:''"`       // Avatar URL.

	EmailVerified   bool `gorm:"not null;default:false"` // Set once the verify token is redeemed.
	PasswordUpdated bool `gorm:"not null;default:false"` // Set after a reset or admin update.
	IsAdmin         bool `gorm:"not null;default:false"` // Grants admin routes.

	VerifyToken          *string    `gorm:"type:text;uniqueIndex"` // Pending email verification token.
	ResetPasswordToken   *string    `gorm:"type:text;uniqueIndex"` // Pending password reset token.
	ResetPasswordExpires *time.Time // Reset token expiry.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
