package db

import (
	"fmt"

	"github.com/elmerpm/elmer/internal/config"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/stage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every gorm model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Workspace{},
		&models.Stage{},
		&models.Project{},
		&models.StageTransition{},
		&models.Job{},
		&models.Document{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedWorkspaces upserts workspace rows and their automation policy from
// configuration, and seeds each workspace's stage registry when it is empty.
func SeedWorkspaces(db *gorm.DB, workspaces []config.WorkspaceConfig) error {
	for _, wc := range workspaces {
		ws := models.Workspace{
			ID:                  wc.ID,
			Name:                wc.Name,
			AutomationMode:      models.AutomationMode(wc.AutomationMode),
			AutomationStopStage: wc.AutomationStopStage,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "automation_mode", "automation_stop_stage", "updated_at"}),
		}).Create(&ws)
		if result.Error != nil {
			return fmt.Errorf("db: seed workspace %q: %w", wc.ID, result.Error)
		}

		stages, err := wc.StageModels()
		if err != nil {
			return fmt.Errorf("db: stages for workspace %q: %w", wc.ID, err)
		}
		if err := stage.Seed(db, wc.ID, stages); err != nil {
			return fmt.Errorf("db: seed stages for workspace %q: %w", wc.ID, err)
		}
	}
	return nil
}
