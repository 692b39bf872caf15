package models

import "time"

// TriggeredBy records who caused a stage change.
type TriggeredBy string

// Stage change origins.
const (
	TriggeredByUser       TriggeredBy = "user"
	TriggeredByAutomation TriggeredBy = "automation"
)

// Project is the unit of work moving through the pipeline.
type Project struct {
	ID          string    `gorm:"primaryKey;size:32" json:"id"`
	WorkspaceID string    `gorm:"size:32;not null;index" json:"workspace_id"`
	Name        string    `gorm:"size:256;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Stage       string    `gorm:"size:32;not null;index" json:"stage"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StageTransition is an audit row written for every effective stage change.
type StageTransition struct {
	ID          uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID   string      `gorm:"size:32;not null;index" json:"project_id"`
	FromStage   string      `gorm:"size:32" json:"from_stage"`
	ToStage     string      `gorm:"size:32;not null" json:"to_stage"`
	TriggeredBy TriggeredBy `gorm:"size:16;not null" json:"triggered_by"`
	CreatedAt   time.Time   `json:"created_at"`
}
