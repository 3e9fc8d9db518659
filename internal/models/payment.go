package models

import (
	"time"

	"gorm.io/datatypes"
)

// Payment providers.
const (
	ProviderYoco    = "yoco"
	ProviderPayFast = "payfast"
)

// Payment statuses.
const (
	PaymentStatusCreated    = "created"
	PaymentStatusProcessing = "processing"
	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
)

// Payment tracks one purchase attempt through a gateway.
type Payment struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"` // Purchasing user.
	User   *User  `gorm:"foreignKey:UserID"`

	Provider   string  `gorm:"type:text;not null;index"` // yoco or payfast.
	CheckoutID *string `gorm:"type:text;uniqueIndex"`    // Provider checkout id (Yoco).
	OrderID    string  `gorm:"type:text;not null;uniqueIndex"`

	Amount      int64  `gorm:"not null"`                 // Amount in cents.
	Currency    string `gorm:"type:text;not null"`       // ISO currency code.
	ProductCode string `gorm:"type:text;not null;index"` // Catalog product code.
	Status      string `gorm:"type:text;not null;default:'created';index"`

	ProviderPaymentID string         `gorm:"type:text;not null;default:''"` // Gateway payment reference.
	Metadata          datatypes.JSON `gorm:"type:jsonb"`                    // Gateway metadata.
	ErrorMessage      string         `gorm:"type:text;not null;default:''"` // Failure reason.

	CardsAllocated int `gorm:"not null;default:0"` // Cards assigned on success.
	CardsOwed      int `gorm:"not null;default:0"` // Shortfall recorded on success.

	CompletedAt *time.Time // Time the payment reached a terminal status.
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}

// IsTerminalPaymentStatus reports whether status can no longer change.
func IsTerminalPaymentStatus(status string) bool {
	switch status {
	case PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionPayment reports whether a payment may move from one status to another.
func CanTransitionPayment(from, to string) bool {
	switch from {
	case PaymentStatusCreated:
		return to == PaymentStatusProcessing || IsTerminalPaymentStatus(to)
	case PaymentStatusProcessing:
		return IsTerminalPaymentStatus(to)
	default:
		return false
	}
}
