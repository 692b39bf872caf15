package models

import "time"

// Document is a knowledge-base entry attached to a project.
type Document struct {
	ID        string         `gorm:"primaryKey;size:32" json:"id"`
	ProjectID string         `gorm:"size:32;not null;index" json:"project_id"`
	Type      string         `gorm:"size:32;not null" json:"type"`
	Title     string         `gorm:"size:256;not null" json:"title"`
	Content   string         `gorm:"type:mediumtext" json:"content"`
	Metadata  map[string]any `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
