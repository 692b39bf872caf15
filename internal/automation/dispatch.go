package automation

import (
	"context"
	"fmt"

	"github.com/elmerpm/elmer/internal/board"
	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/logging"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/stage"
	"go.uber.org/zap"
)

// DocTypeResearch is the document type a supplied transcript is stored as.
const DocTypeResearch = "research"

// Dispatcher performs the entry side effects of a stage: its auto-trigger
// jobs, then its agent triggers by ascending priority. Every side effect is
// best-effort; failures are logged and recorded in the Report and never stop
// the remaining dispatches.
type Dispatcher struct {
	Jobs      JobDispatcher
	Documents DocumentCreator   // optional
	Trigger   ProcessingTrigger // optional
	State     board.State       // optional; receives transient job fields
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// EnterStage dispatches the configured work for a card entering st.
func (d *Dispatcher) EnterStage(ctx context.Context, card board.Card, st models.Stage, in *Input) Report {
	log := logging.OrNop(d.Log).With(zap.String("project_id", card.ID), zap.String("stage", st.ID))
	rep := Report{ProjectID: card.ID, Stage: st.ID}

	for _, jt := range st.AutoTriggerJobs {
		var input map[string]any
		if jt == job.AnalyzeTranscript && in.HasTranscript() {
			input = map[string]any{"transcript": in.Transcript}
			d.storeTranscript(ctx, log, &rep, card, st, in.Transcript)
		}
		id, err := d.enqueue(ctx, card, jt, input)
		if err != nil {
			log.Warn("job dispatch failed", zap.String("job_type", string(jt)), zap.Error(err))
		}
		rep.add(TaskResult{Kind: TaskJob, JobType: jt, ID: id, Err: err})
	}

	for _, at := range stage.SortedTriggers(st) {
		input := map[string]any{"agent_definition_id": at.AgentDefinitionID}
		id, err := d.enqueue(ctx, card, job.ExecuteAgentDefinition, input)
		if err != nil {
			log.Warn("agent trigger dispatch failed", zap.String("agent_definition_id", at.AgentDefinitionID), zap.Error(err))
		}
		rep.add(TaskResult{Kind: TaskAgent, JobType: job.ExecuteAgentDefinition, AgentDefinitionID: at.AgentDefinitionID, ID: id, Err: err})
	}

	if first, ok := rep.FirstJobType(); ok {
		if d.State != nil {
			d.State.UpdateProject(card.ID, func(c *board.Card) {
				c.ActiveJobType = first
				c.ActiveJobProgress = 0
				c.ActiveJobStatus = job.StatusPending
				c.IsLocked = true
			})
		}
		if d.Trigger != nil {
			d.Trigger.TriggerProcessing()
		}
	}

	log.Debug("stage entry dispatched",
		zap.Int("dispatched", len(rep.Dispatched())),
		zap.Int("failed", len(rep.Failures())))
	return rep
}

func (d *Dispatcher) enqueue(ctx context.Context, card board.Card, jt job.Type, input map[string]any) (id string, err error) {
	defer func() {
		d.Metrics.Dispatch(string(jt), err == nil)
	}()
	if d.Jobs == nil {
		return "", fmt.Errorf("automation: no job dispatcher configured")
	}
	return d.Jobs.EnqueueJob(ctx, card.WorkspaceID, card.ID, jt, input)
}

func (d *Dispatcher) storeTranscript(ctx context.Context, log *zap.Logger, rep *Report, card board.Card, st models.Stage, transcript string) {
	if d.Documents == nil {
		return
	}
	title := fmt.Sprintf("Research transcript: %s", card.Name)
	meta := map[string]any{"source": "transcript", "stage": st.ID}
	id, err := d.Documents.CreateDocument(ctx, card.ID, DocTypeResearch, title, transcript, meta)
	if err != nil {
		log.Warn("transcript document creation failed", zap.Error(err))
	}
	rep.add(TaskResult{Kind: TaskDocument, ID: id, Err: err})
}
