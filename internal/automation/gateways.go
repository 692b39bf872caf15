// Package automation dispatches stage-entry work and walks projects forward
// through the pipeline according to the workspace automation policy.
package automation

import (
	"context"

	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/models"
)

// StagePersister durably records a project's stage. Setting the stage a
// project already has must succeed without effect.
type StagePersister interface {
	SetProjectStage(ctx context.Context, projectID, stage string, by models.TriggeredBy) error
}

// StageReader reports the durably recorded stage of a project. An empty
// stage means the reader has no record. Persisters that also implement it
// let transitions re-check the stage after taking the project guard.
type StageReader interface {
	ProjectStage(ctx context.Context, projectID string) (string, error)
}

// PersistedStage returns the recorded stage of projectID when p can report
// it, or "" when it cannot.
func PersistedStage(ctx context.Context, p StagePersister, projectID string) (string, error) {
	r, ok := p.(StageReader)
	if !ok {
		return "", nil
	}
	return r.ProjectStage(ctx, projectID)
}

// JobDispatcher enqueues a job against a project and returns its ID.
type JobDispatcher interface {
	EnqueueJob(ctx context.Context, workspaceID, projectID string, t job.Type, input map[string]any) (string, error)
}

// DocumentCreator stores a project document and returns its ID.
type DocumentCreator interface {
	CreateDocument(ctx context.Context, projectID, docType, title, content string, metadata map[string]any) (string, error)
}

// ProcessingTrigger wakes job processing. Calling it repeatedly is harmless.
type ProcessingTrigger interface {
	TriggerProcessing()
}

// Gate describes a run that halted waiting for a human.
type Gate struct {
	WorkspaceID string
	ProjectID   string
	ProjectName string
	Stage       string
	StageName   string
	Reason      StopReason
}

// Notifier is told when a run halts at a human-in-loop stage or the
// configured stop stage.
type Notifier interface {
	GateReached(ctx context.Context, g Gate) error
}

// Input is data supplied with a transition, such as a research transcript.
// A nil *Input means nothing was supplied; a non-nil empty Input means the
// user explicitly skipped.
type Input struct {
	Transcript string `json:"transcript,omitempty"`
}

// HasTranscript reports whether a non-empty transcript was supplied.
func (in *Input) HasTranscript() bool {
	return in != nil && in.Transcript != ""
}
