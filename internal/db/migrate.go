package db

import (
	"fmt"

	"github.com/padworks/accounts/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema idempotently.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.Subscription{},
		&models.CheckoutToken{},
		&models.DPA{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}
