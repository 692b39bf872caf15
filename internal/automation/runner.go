package automation

import (
	"context"
	"fmt"

	"github.com/elmerpm/elmer/internal/board"
	"github.com/elmerpm/elmer/internal/logging"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/stage"
	"go.uber.org/zap"
)

// StopReason explains why a run ended.
type StopReason string

// Stop reasons.
const (
	StopManual        StopReason = "manual"
	StopNoContext     StopReason = "no_context"
	StopUnknownStart  StopReason = "unknown_start"
	StopExhausted     StopReason = "exhausted"
	StopStage         StopReason = "stop_stage"
	StopHumanInLoop   StopReason = "human_in_loop"
	StopInputRequired StopReason = "input_required"
	StopPersistFailed StopReason = "persist_failed"
)

// RunResult describes one automation run. Entered lists the stages that were
// persisted, in order. Err is set only when Reason is StopPersistFailed.
type RunResult struct {
	ProjectID string     `json:"project_id"`
	Start     string     `json:"start"`
	Entered   []string   `json:"entered"`
	StoppedAt string     `json:"stopped_at"`
	Reason    StopReason `json:"reason"`
	Reports   []Report   `json:"reports,omitempty"`
	Err       error      `json:"-"`
	Error     string     `json:"error,omitempty"`
}

// Runner walks a project forward through the enabled stages according to
// the workspace automation policy.
type Runner struct {
	WorkspaceID string
	Policy      models.AutomationPolicy
	Stages      []models.Stage // full registry; State.Columns() when nil
	State       board.State
	Persister   StagePersister
	Dispatcher  *Dispatcher
	Guard       *Guard
	Notifier    Notifier // optional
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

// Run acquires the project and advances it from start. It returns
// ErrProjectBusy if another transition holds the project. When the persister
// can report the recorded stage, the run starts from that stage instead.
func (r *Runner) Run(ctx context.Context, projectID, start string, in *Input) (RunResult, error) {
	if r.Guard != nil {
		release, ok := r.Guard.TryAcquire(projectID)
		if !ok {
			return RunResult{ProjectID: projectID, Start: start}, fmt.Errorf("automation: run %s: %w", projectID, ErrProjectBusy)
		}
		defer release()
	}
	if r.Persister != nil {
		cur, err := PersistedStage(ctx, r.Persister, projectID)
		if err != nil {
			return RunResult{ProjectID: projectID, Start: start}, fmt.Errorf("automation: run %s: %w", projectID, err)
		}
		if cur != "" && cur != start {
			start = cur
			if r.State != nil {
				r.State.MoveProject(projectID, cur)
			}
		}
	}
	return r.Advance(ctx, projectID, start, in), nil
}

// Advance performs the run. The caller must already hold the project in the
// guard.
func (r *Runner) Advance(ctx context.Context, projectID, start string, in *Input) RunResult {
	log := logging.OrNop(r.Log).With(zap.String("project_id", projectID), zap.String("start", start))
	res := RunResult{ProjectID: projectID, Start: start, StoppedAt: start}
	defer func() {
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
		r.Metrics.AutomationRun(string(res.Reason))
	}()

	if r.Policy.Mode == models.AutomationManual || r.Policy.Mode == "" {
		res.Reason = StopManual
		return res
	}
	if r.WorkspaceID == "" || r.State == nil || r.Persister == nil {
		log.Debug("automation skipped: missing context")
		res.Reason = StopNoContext
		return res
	}
	all := r.Stages
	if all == nil {
		all = r.State.Columns()
	}
	stages := stage.EnabledSorted(all)
	if len(stages) == 0 {
		res.Reason = StopNoContext
		return res
	}
	idx := stage.IndexOf(stages, start)
	if idx < 0 {
		log.Debug("automation skipped: start stage not enabled")
		res.Reason = StopUnknownStart
		return res
	}

	stopStage := ""
	if r.Policy.Mode == models.AutomationAutoToStage {
		stopStage = r.Policy.StopStage
	}

	for _, st := range stages[idx+1:] {
		if stage.RequiresInput(st.ID) && !in.HasTranscript() {
			res.Reason = StopInputRequired
			log.Info("automation halted before input stage", zap.String("stage", st.ID))
			return res
		}
		if err := ctx.Err(); err != nil {
			res.Reason, res.Err = StopPersistFailed, err
			return res
		}

		if err := r.Persister.SetProjectStage(ctx, projectID, st.ID, models.TriggeredByAutomation); err != nil {
			r.Metrics.Transition(string(models.TriggeredByAutomation), "failed")
			res.Reason = StopPersistFailed
			res.Err = fmt.Errorf("automation: persist %s -> %s: %w", projectID, st.ID, err)
			log.Error("automation stage persist failed", zap.String("stage", st.ID), zap.Error(err))
			return res
		}
		r.Metrics.Transition(string(models.TriggeredByAutomation), "committed")
		r.State.MoveProject(projectID, st.ID)
		res.Entered = append(res.Entered, st.ID)
		res.StoppedAt = st.ID

		if r.Dispatcher != nil {
			card, ok := r.State.Card(projectID)
			if !ok {
				card = board.Card{Project: models.Project{ID: projectID, WorkspaceID: r.WorkspaceID, Stage: st.ID}}
			}
			res.Reports = append(res.Reports, r.Dispatcher.EnterStage(ctx, card, st, in))
		}

		switch {
		case stopStage != "" && st.ID == stopStage:
			res.Reason = StopStage
		case st.HumanInLoop:
			res.Reason = StopHumanInLoop
		default:
			continue
		}
		log.Info("automation halted", zap.String("stage", st.ID), zap.String("reason", string(res.Reason)))
		r.notify(ctx, log, projectID, st, res.Reason)
		return res
	}

	res.Reason = StopExhausted
	return res
}

func (r *Runner) notify(ctx context.Context, log *zap.Logger, projectID string, st models.Stage, reason StopReason) {
	if r.Notifier == nil {
		return
	}
	g := Gate{
		WorkspaceID: r.WorkspaceID,
		ProjectID:   projectID,
		Stage:       st.ID,
		StageName:   st.DisplayName,
		Reason:      reason,
	}
	if card, ok := r.State.Card(projectID); ok {
		g.ProjectName = card.Name
	}
	if err := r.Notifier.GateReached(ctx, g); err != nil {
		log.Warn("gate notification failed", zap.Error(err))
	}
}

// Halted reports whether the run stopped at a point that needs a human.
func (res RunResult) Halted() bool {
	return res.Reason == StopStage || res.Reason == StopHumanInLoop || res.Reason == StopInputRequired
}

// Failed reports whether the run aborted on a persistence error.
func (res RunResult) Failed() bool {
	return res.Reason == StopPersistFailed
}
