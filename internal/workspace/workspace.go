// Package workspace stores workspaces and their automation policy.
package workspace

import (
	"errors"
	"fmt"

	"github.com/elmerpm/elmer/internal/idgen"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/stage"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a workspace id does not exist.
var ErrNotFound = errors.New("workspace not found")

// CreateOpts holds parameters for creating a workspace.
type CreateOpts struct {
	ID     string // generated when empty
	Name   string
	Stages []models.Stage // defaults to stage.Defaults
}

// Create inserts a workspace in manual mode and seeds its stage registry.
func Create(db *gorm.DB, opts CreateOpts) (*models.Workspace, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workspace: name is required")
	}
	if opts.ID == "" {
		id, err := idgen.New(idgen.PrefixWorkspace)
		if err != nil {
			return nil, fmt.Errorf("workspace: %w", err)
		}
		opts.ID = id
	}
	stages := opts.Stages
	if len(stages) == 0 {
		stages = stage.Defaults(opts.ID)
	}

	ws := &models.Workspace{ID: opts.ID, Name: opts.Name, AutomationMode: models.AutomationManual}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ws).Error; err != nil {
			return fmt.Errorf("workspace: create %s: %w", opts.ID, err)
		}
		return stage.Seed(tx, opts.ID, stages)
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Get returns a workspace by id.
func Get(db *gorm.DB, id string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := db.Where("id = ?", id).First(&ws).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("workspace: %w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("workspace: get %s: %w", id, err)
	}
	return &ws, nil
}

// List returns all workspaces ordered by id.
func List(db *gorm.DB) ([]models.Workspace, error) {
	var out []models.Workspace
	if err := db.Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("workspace: list: %w", err)
	}
	return out, nil
}

// SetAutomation updates the automation policy. A stop stage, when given,
// must be an enabled stage of the workspace.
func SetAutomation(db *gorm.DB, id string, p models.AutomationPolicy) (*models.Workspace, error) {
	if !p.Mode.Valid() {
		return nil, fmt.Errorf("workspace: invalid automation mode %q", p.Mode)
	}
	ws, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if p.StopStage != "" {
		stages, err := stage.List(db, id)
		if err != nil {
			return nil, fmt.Errorf("workspace: %w", err)
		}
		if _, ok := stage.Lookup(stage.EnabledSorted(stages), p.StopStage); !ok {
			return nil, fmt.Errorf("workspace: stop stage %q: %w", p.StopStage, stage.ErrStageNotFound)
		}
	}
	result := db.Model(ws).Updates(map[string]interface{}{
		"automation_mode":       p.Mode,
		"automation_stop_stage": p.StopStage,
	})
	if result.Error != nil {
		return nil, fmt.Errorf("workspace: set automation %s: %w", id, result.Error)
	}
	ws.AutomationMode = p.Mode
	ws.AutomationStopStage = p.StopStage
	return ws, nil
}
