package models

import "time"

// AutomationMode controls how far a project auto-advances after entering a stage.
type AutomationMode string

// Automation modes.
const (
	AutomationManual      AutomationMode = "manual"
	AutomationAutoToStage AutomationMode = "auto_to_stage"
	AutomationAutoAll     AutomationMode = "auto_all"
)

// Valid reports whether m is one of the known automation modes.
func (m AutomationMode) Valid() bool {
	switch m {
	case AutomationManual, AutomationAutoToStage, AutomationAutoAll:
		return true
	}
	return false
}

// Workspace owns a stage registry, its projects, and the automation policy.
type Workspace struct {
	ID                  string         `gorm:"primaryKey;size:32" json:"id"`
	Name                string         `gorm:"size:128;not null" json:"name"`
	AutomationMode      AutomationMode `gorm:"size:16;default:manual" json:"automation_mode"`
	AutomationStopStage string         `gorm:"size:32" json:"automation_stop_stage,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Policy returns the workspace automation policy.
func (w Workspace) Policy() AutomationPolicy {
	return AutomationPolicy{Mode: w.AutomationMode, StopStage: w.AutomationStopStage}
}

// AutomationPolicy is the subset of workspace settings the runner consults.
type AutomationPolicy struct {
	Mode      AutomationMode `json:"automation_mode"`
	StopStage string         `json:"automation_stop_stage,omitempty"`
}
