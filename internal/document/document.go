// Package document stores project knowledge-base documents and implements the
// document creation gateway.
package document

import (
	"context"
	"fmt"

	"github.com/elmerpm/elmer/internal/idgen"
	"github.com/elmerpm/elmer/internal/logging"
	"github.com/elmerpm/elmer/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Document types written by the pipeline.
const (
	TypeResearch        = "research"
	TypePRD             = "prd"
	TypeDesignBrief     = "design_brief"
	TypeEngineeringSpec = "engineering_spec"
	TypeGTMBrief        = "gtm_brief"
)

// CreateOpts holds parameters for creating a document.
type CreateOpts struct {
	ProjectID string
	Type      string
	Title     string
	Content   string
	Metadata  map[string]any
}

// Create stores a new document.
func Create(db *gorm.DB, opts CreateOpts) (*models.Document, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("document: project is required")
	}
	if opts.Type == "" {
		return nil, fmt.Errorf("document: type is required")
	}
	if opts.Title == "" {
		return nil, fmt.Errorf("document: title is required")
	}

	id, err := idgen.New(idgen.PrefixDocument)
	if err != nil {
		return nil, fmt.Errorf("document: %w", err)
	}
	d := models.Document{
		ID:        id,
		ProjectID: opts.ProjectID,
		Type:      opts.Type,
		Title:     opts.Title,
		Content:   opts.Content,
		Metadata:  opts.Metadata,
	}
	if err := db.Create(&d).Error; err != nil {
		return nil, fmt.Errorf("document: create for %s: %w", opts.ProjectID, err)
	}
	return &d, nil
}

// List returns a project's documents, optionally of one type, oldest first.
func List(db *gorm.DB, projectID, docType string) ([]models.Document, error) {
	q := db.Where("project_id = ?", projectID)
	if docType != "" {
		q = q.Where("type = ?", docType)
	}
	var docs []models.Document
	if err := q.Order("created_at ASC, id ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("document: list %s: %w", projectID, err)
	}
	return docs, nil
}

// Syncer mirrors a stored document to an external system.
type Syncer interface {
	Sync(ctx context.Context, doc models.Document) error
}

// Gateway adapts the store to the document creation contract. When Syncer is
// set, each new document is mirrored after it is stored; sync failures are
// logged and never fail the creation.
type Gateway struct {
	DB     *gorm.DB
	Syncer Syncer
	Log    *zap.Logger
}

// CreateDocument implements the document creation gateway.
func (g Gateway) CreateDocument(ctx context.Context, projectID, docType, title, content string, metadata map[string]any) (string, error) {
	d, err := Create(g.DB.WithContext(ctx), CreateOpts{
		ProjectID: projectID,
		Type:      docType,
		Title:     title,
		Content:   content,
		Metadata:  metadata,
	})
	if err != nil {
		return "", err
	}
	if g.Syncer != nil {
		if err := g.Syncer.Sync(ctx, *d); err != nil {
			logging.OrNop(g.Log).Warn("document sync failed",
				zap.String("document_id", d.ID),
				zap.String("project_id", projectID),
				zap.Error(err))
		}
	}
	return d.ID, nil
}
