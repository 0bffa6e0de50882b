package db

import (
	"fmt"

	"github.com/zulandar/hangar/internal/config"
	"github.com/zulandar/hangar/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.BotStatus{},
		&models.BotEvent{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedWorkers inserts a stopped status row for every configured worker
// that has no row yet. Existing rows are left untouched.
func SeedWorkers(db *gorm.DB, workers []config.WorkerConfig) error {
	for _, w := range workers {
		row := models.BotStatus{ID: w.ID, Status: "stopped"}
		result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("db: seed worker %q: %w", w.ID, result.Error)
		}
	}
	return nil
}
