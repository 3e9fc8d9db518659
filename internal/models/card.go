package models

import "time"

// Card statuses.
const (
	CardStatusCreated = "created" // In stock, never sold.
	CardStatusSold    = "sold"    // Allocated to a purchaser.
	CardStatusUsed    = "used"    // Redeemed.
	CardStatusExpired = "expired" // No longer usable.
)

// Card is a voucher / license key held in inventory.
type Card struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	BatchID  string `gorm:"type:text;not null;index"`       // Import batch identifier.
	Product  string `gorm:"type:text;not null"`             // Product the card unlocks.
	CardNo   string `gorm:"type:text;not null;uniqueIndex"` // Unique card number.
	Account  string `gorm:"type:text;not null;default:''"`  // Optional account name.
	Password string `gorm:"type:text;not null"`             // Card secret.

	Status string `gorm:"type:text;not null;default:'created';index"` // Lifecycle status.

	UsedByID *uint64    `gorm:"index"` // User who redeemed the card.
	UsedAt   *time.Time // Redemption time.

	PurchasedByID *uint64    `gorm:"index"` // Purchasing user.
	PurchasedAt   *time.Time // Allocation time.
	PaymentID     *uint64    `gorm:"index"` // Payment that allocated the card.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// CanTransitionCard reports whether a card may move from one status to another.
// Sold cards may only become used; ownership is checked by the caller.
func CanTransitionCard(from, to string) bool {
	switch from {
	case CardStatusCreated:
		return to == CardStatusSold || to == CardStatusUsed || to == CardStatusExpired
	case CardStatusSold:
		return to == CardStatusUsed
	default:
		return false
	}
}

// CardOwed records cards a user paid for that inventory could not cover.
type CardOwed struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OwedToID uint64 `gorm:"not null;index"`      // Creditor user.
	OwedTo   *User  `gorm:"foreignKey:OwedToID"` // Creditor user record.

	NumberOfCards int     `gorm:"not null;default:0"` // Outstanding card count.
	PaymentID     *uint64 `gorm:"index"`              // Most recent payment that added to the debt.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName keeps the plural table name stable.
func (CardOwed) TableName() string { return "cards_owed" }
