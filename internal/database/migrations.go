package database

import (
	"fmt"

	"gorm.io/gorm"

	"hdbresale/server/internal/models"
)

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_transactions_selection
		ON transactions(town, flat_type, year)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_coordinates
		ON transactions(latitude, longitude)`,
}

// MigrateSchema creates the working table and its indexes.
func MigrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Transaction{}); err != nil {
		return fmt.Errorf("failed to migrate transactions table: %w", err)
	}

	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (d *Database) RunMigrations() error {
	return MigrateSchema(d.db)
}
