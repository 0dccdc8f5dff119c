package db

import (
	"fmt"

	"github.com/xpdacq/xpdacq/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model in the run database.
func AllModels() []interface{} {
	return []interface{}{
		&models.Run{},
		&models.ScheduleRun{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
