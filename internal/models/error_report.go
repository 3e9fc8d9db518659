package models

import "time"

// ErrorReport is a client-side error submitted by a user.
type ErrorReport struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.
	UserID uint64 `gorm:"not null;index"`           // Reporting user.
	Error  string `gorm:"type:text;not null"`       // Error message.

	Date time.Time `gorm:"not null;autoCreateTime"` // Report time.
}

// TableName maps error reports to the errors table.
func (ErrorReport) TableName() string { return "errors" }
