package stage

import (
	"errors"
	"fmt"

	"github.com/elmerpm/elmer/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// List returns every stage of a workspace, enabled or not, ordered by Order.
func List(db *gorm.DB, workspaceID string) ([]models.Stage, error) {
	var stages []models.Stage
	if err := db.Where("workspace_id = ?", workspaceID).Order("position ASC, id ASC").Find(&stages).Error; err != nil {
		return nil, fmt.Errorf("stage: list %s: %w", workspaceID, err)
	}
	return stages, nil
}

// Get returns a single stage.
func Get(db *gorm.DB, workspaceID, id string) (*models.Stage, error) {
	var s models.Stage
	if err := db.Where("workspace_id = ? AND id = ?", workspaceID, id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("stage: %w: %s/%s", ErrStageNotFound, workspaceID, id)
		}
		return nil, fmt.Errorf("stage: get %s/%s: %w", workspaceID, id, err)
	}
	return &s, nil
}

// Upsert writes a stage, replacing its configuration if it already exists.
// The resulting registry is validated before the write.
func Upsert(db *gorm.DB, s models.Stage) error {
	if s.WorkspaceID == "" {
		return fmt.Errorf("stage: workspace id is required")
	}
	current, err := List(db, s.WorkspaceID)
	if err != nil {
		return err
	}
	merged := make([]models.Stage, 0, len(current)+1)
	replaced := false
	for _, c := range current {
		if c.ID == s.ID {
			merged = append(merged, s)
			replaced = true
			continue
		}
		merged = append(merged, c)
	}
	if !replaced {
		merged = append(merged, s)
	}
	if err := Validate(merged); err != nil {
		return err
	}

	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "workspace_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "position", "enabled", "auto_trigger_jobs", "agent_triggers",
			"human_in_loop", "required_documents", "required_approvals", "rules", "updated_at",
		}),
	}).Create(&s)
	if result.Error != nil {
		return fmt.Errorf("stage: upsert %s/%s: %w", s.WorkspaceID, s.ID, result.Error)
	}
	return nil
}

// Seed writes the given stages for a workspace when it has none yet.
// Existing registries are left untouched.
func Seed(db *gorm.DB, workspaceID string, stages []models.Stage) error {
	var count int64
	if err := db.Model(&models.Stage{}).Where("workspace_id = ?", workspaceID).Count(&count).Error; err != nil {
		return fmt.Errorf("stage: count %s: %w", workspaceID, err)
	}
	if count > 0 {
		return nil
	}
	for i := range stages {
		stages[i].WorkspaceID = workspaceID
	}
	if err := Validate(stages); err != nil {
		return err
	}
	if err := db.Create(&stages).Error; err != nil {
		return fmt.Errorf("stage: seed %s: %w", workspaceID, err)
	}
	return nil
}

// SetEnabled toggles whether a stage takes part in the pipeline.
func SetEnabled(db *gorm.DB, workspaceID, id string, enabled bool) error {
	s, err := Get(db, workspaceID, id)
	if err != nil {
		return err
	}
	s.Enabled = enabled
	return Upsert(db, *s)
}
