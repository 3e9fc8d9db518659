package db

import (
	"fmt"

	"github.com/watchlistpro/cardstore/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates all tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Card{},
		&models.CardOwed{},
		&models.Payment{},
		&models.ErrorReport{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
