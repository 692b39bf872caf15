// Package project provides project lifecycle operations and the durable
// stage-persistence gateway.
package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/elmerpm/elmer/internal/idgen"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/stage"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a project id does not exist.
var ErrNotFound = errors.New("project not found")

// CreateOpts holds parameters for creating a new project.
type CreateOpts struct {
	WorkspaceID string
	Name        string
	Description string
	Stage       string // defaults to the first enabled stage
}

// ListFilters holds optional filters for listing projects.
type ListFilters struct {
	WorkspaceID string
	Stage       string
}

// Create creates a new project with an auto-generated ID.
func Create(db *gorm.DB, opts CreateOpts) (*models.Project, error) {
	if opts.WorkspaceID == "" {
		return nil, fmt.Errorf("project: workspace is required")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("project: name is required")
	}

	stages, err := stage.List(db, opts.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	enabled := stage.EnabledSorted(stages)
	if len(enabled) == 0 {
		return nil, fmt.Errorf("project: workspace %s has no enabled stages", opts.WorkspaceID)
	}
	if opts.Stage == "" {
		opts.Stage = enabled[0].ID
	}
	if err := checkStage(stages, opts.WorkspaceID, opts.Stage); err != nil {
		return nil, err
	}

	id, err := idgen.New(idgen.PrefixProject)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}

	p := models.Project{
		ID:          id,
		WorkspaceID: opts.WorkspaceID,
		Name:        opts.Name,
		Description: opts.Description,
		Stage:       opts.Stage,
	}
	if err := db.Create(&p).Error; err != nil {
		return nil, fmt.Errorf("project: create: %w", err)
	}
	return &p, nil
}

// Get retrieves a project by ID.
func Get(db *gorm.DB, id string) (*models.Project, error) {
	var p models.Project
	if err := db.Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("project: %w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("project: get %s: %w", id, err)
	}
	return &p, nil
}

// List returns projects matching the given filters, oldest first.
func List(db *gorm.DB, filters ListFilters) ([]models.Project, error) {
	q := db.Model(&models.Project{})
	if filters.WorkspaceID != "" {
		q = q.Where("workspace_id = ?", filters.WorkspaceID)
	}
	if filters.Stage != "" {
		q = q.Where("stage = ?", filters.Stage)
	}

	var projects []models.Project
	if err := q.Order("created_at ASC, id ASC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("project: list: %w", err)
	}
	return projects, nil
}

// Delete removes a project and its transition history.
func Delete(db *gorm.DB, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&models.Project{})
		if result.Error != nil {
			return fmt.Errorf("project: delete %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("project: %w: %s", ErrNotFound, id)
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.StageTransition{}).Error; err != nil {
			return fmt.Errorf("project: delete history of %s: %w", id, err)
		}
		return nil
	})
}

// SetStage durably moves a project to a stage. The target must be an enabled
// stage of the project's workspace. Setting the stage the project is already
// in is a no-op; every effective change writes a StageTransition row.
func SetStage(db *gorm.DB, projectID, target string, by models.TriggeredBy) error {
	return db.Transaction(func(tx *gorm.DB) error {
		p, err := Get(tx, projectID)
		if err != nil {
			return err
		}

		stages, err := stage.List(tx, p.WorkspaceID)
		if err != nil {
			return fmt.Errorf("project: %w", err)
		}
		if err := checkStage(stages, p.WorkspaceID, target); err != nil {
			return err
		}
		if p.Stage == target {
			return nil
		}

		if err := tx.Model(&models.Project{}).Where("id = ?", projectID).Update("stage", target).Error; err != nil {
			return fmt.Errorf("project: set stage %s: %w", projectID, err)
		}
		tr := models.StageTransition{
			ProjectID:   projectID,
			FromStage:   p.Stage,
			ToStage:     target,
			TriggeredBy: by,
		}
		if err := tx.Create(&tr).Error; err != nil {
			return fmt.Errorf("project: record transition %s: %w", projectID, err)
		}
		return nil
	})
}

// History returns a project's stage transitions, oldest first.
func History(db *gorm.DB, projectID string) ([]models.StageTransition, error) {
	var out []models.StageTransition
	if err := db.Where("project_id = ?", projectID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("project: history %s: %w", projectID, err)
	}
	return out, nil
}

func checkStage(stages []models.Stage, workspaceID, id string) error {
	s, ok := stage.Lookup(stages, id)
	if !ok {
		return fmt.Errorf("project: %w: %s/%s", stage.ErrStageNotFound, workspaceID, id)
	}
	if !s.Enabled {
		return fmt.Errorf("project: %w: %s/%s", stage.ErrStageDisabled, workspaceID, id)
	}
	return nil
}

// Gateway adapts the store to the stage persistence contract used by the
// transition controller and the automation runner.
type Gateway struct {
	DB *gorm.DB
}

// ProjectStage implements automation.StageReader.
func (g Gateway) ProjectStage(ctx context.Context, projectID string) (string, error) {
	p, err := Get(g.DB.WithContext(ctx), projectID)
	if err != nil {
		return "", err
	}
	return p.Stage, nil
}

// SetProjectStage implements the stage persistence gateway.
func (g Gateway) SetProjectStage(ctx context.Context, projectID, stage string, by models.TriggeredBy) error {
	return SetStage(g.DB.WithContext(ctx), projectID, stage, by)
}
