package models

import (
	"encoding/json"
	"time"
)

// Setting is a runtime-tunable value, such as PRODUCT_CATALOG, edited through the admin API.
type Setting struct {
	Key       string          `gorm:"type:varchar(255);primaryKey"` // Setting name.
	Value     json.RawMessage `gorm:"type:jsonb"`                   // JSON-encoded value.
	UpdatedBy *uint64         `gorm:"index"`                        // Admin user who last changed it.
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime"`      // Last change.
}
