package models

import (
	"time"

	"github.com/elmerpm/elmer/internal/job"
)

// Job is a queued unit of automated work against a project.
type Job struct {
	ID          string         `gorm:"primaryKey;size:32" json:"id"`
	WorkspaceID string         `gorm:"size:32;not null;index" json:"workspace_id"`
	ProjectID   string         `gorm:"size:32;not null;index" json:"project_id"`
	Type        job.Type       `gorm:"size:32;not null" json:"type"`
	Status      job.Status     `gorm:"size:16;default:pending;index" json:"status"`
	Progress    float64        `gorm:"default:0" json:"progress"`
	Input       map[string]any `gorm:"serializer:json;type:text" json:"input,omitempty"`
	Output      map[string]any `gorm:"serializer:json;type:text" json:"output,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	Attempts    int            `gorm:"default:0" json:"attempts"`
	WorkerID    string         `gorm:"size:64" json:"worker_id,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
