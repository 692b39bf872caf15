package models

import (
	"time"

	"github.com/elmerpm/elmer/internal/job"
)

// Stage is one pipeline column and its automation configuration.
type Stage struct {
	WorkspaceID       string         `gorm:"primaryKey;size:32" json:"workspace_id"`
	ID                string         `gorm:"primaryKey;size:32" json:"id"`
	DisplayName       string         `gorm:"size:64;not null" json:"display_name"`
	Order             int            `gorm:"column:position;index" json:"order"`
	Enabled           bool           `gorm:"not null" json:"enabled"`
	AutoTriggerJobs   []job.Type     `gorm:"serializer:json;type:text" json:"auto_trigger_jobs,omitempty"`
	AgentTriggers     []AgentTrigger `gorm:"serializer:json;type:text" json:"agent_triggers,omitempty"`
	HumanInLoop       bool           `gorm:"default:false" json:"human_in_loop"`
	RequiredDocuments []string       `gorm:"serializer:json;type:text" json:"required_documents,omitempty"`
	RequiredApprovals []string       `gorm:"serializer:json;type:text" json:"required_approvals,omitempty"`
	Rules             *StageRules    `gorm:"serializer:json;type:text" json:"rules,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// AgentTrigger runs an agent definition as a job when a project enters the stage.
// Lower Priority values run first.
type AgentTrigger struct {
	AgentDefinitionID string         `json:"agent_definition_id" yaml:"agent_definition_id"`
	Priority          int            `json:"priority" yaml:"priority"`
	Conditions        map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// StageRules carries iteration-loop metadata. It is only used to draw cyclic
// stage relationships and never affects transitions.
type StageRules struct {
	LoopGroupID     string   `json:"loop_group_id,omitempty" yaml:"loop_group_id,omitempty"`
	LoopTargets     []string `json:"loop_targets,omitempty" yaml:"loop_targets,omitempty"`
	ContextPaths    []string `json:"context_paths,omitempty" yaml:"context_paths,omitempty"`
	ContextNotes    string   `json:"context_notes,omitempty" yaml:"context_notes,omitempty"`
	DependencyNotes string   `json:"dependency_notes,omitempty" yaml:"dependency_notes,omitempty"`
}
