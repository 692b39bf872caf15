package kanban

import (
	"context"
	"errors"
	"testing"

	"github.com/elmerpm/elmer/internal/automation"
	"github.com/elmerpm/elmer/internal/automation/automationtest"
	"github.com/elmerpm/elmer/internal/board"
	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	board     *board.Board
	persister *automationtest.Persister
	jobs      *automationtest.Jobs
	docs      *automationtest.Documents
	trigger   *automationtest.Trigger
	logs      *observer.ObservedLogs
	ctrl      *Controller
}

func newFixture(t *testing.T, mode models.AutomationMode) *fixture {
	t.Helper()
	stages := automationtest.Stages("ws-1", "inbox", "discovery", "prd", "design")
	stages[1].AutoTriggerJobs = []job.Type{job.AnalyzeTranscript}
	stages[2].AutoTriggerJobs = []job.Type{job.GeneratePRD}
	projects := []models.Project{
		{ID: "prj-1", WorkspaceID: "ws-1", Name: "Checkout", Stage: "inbox"},
		{ID: "prj-2", WorkspaceID: "ws-1", Name: "Search", Stage: "prd"},
	}
	core, logs := observer.New(zap.DebugLevel)
	f := &fixture{
		board:     board.New(stages, projects),
		persister: automationtest.NewPersister(),
		jobs:      automationtest.NewJobs(),
		docs:      &automationtest.Documents{},
		trigger:   &automationtest.Trigger{},
		logs:      logs,
	}
	guard := automation.NewGuard()
	disp := &automation.Dispatcher{Jobs: f.jobs, Documents: f.docs, Trigger: f.trigger, State: f.board}
	f.ctrl = &Controller{
		State:      f.board,
		Persister:  f.persister,
		Dispatcher: disp,
		Runner: &automation.Runner{
			WorkspaceID: "ws-1",
			Policy:      models.AutomationPolicy{Mode: mode},
			State:       f.board,
			Persister:   f.persister,
			Dispatcher:  disp,
			Guard:       guard,
		},
		Guard: guard,
		Log:   zap.New(core),
	}
	return f
}

func (f *fixture) stageOf(t *testing.T, id string) string {
	t.Helper()
	c, ok := f.board.Card(id)
	require.True(t, ok)
	return c.Stage
}

func (f *fixture) gatewayCalls() int {
	return f.persister.Count() + f.jobs.Count() + f.docs.Count()
}

func TestDrop_OnCurrentStageIsNoop(t *testing.T) {
	for _, over := range []string{"prd", "prj-2"} {
		t.Run(over, func(t *testing.T) {
			f := newFixture(t, models.AutomationManual)
			require.NoError(t, f.ctrl.OnStart("prj-2"))

			res, err := f.ctrl.OnEnd(context.Background(), over)
			require.NoError(t, err)

			assert.Equal(t, OutcomeUnchanged, res.Outcome)
			assert.Zero(t, f.persister.Count())
		})
	}
}

func TestDrop_BackOntoOriginalAfterHover(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	require.NoError(t, f.ctrl.OnStart("prj-1"))
	f.ctrl.OnOver("prd")
	assert.Equal(t, "prd", f.stageOf(t, "prj-1"))
	f.ctrl.OnOver("design")
	f.ctrl.OnOver("inbox")

	res, err := f.ctrl.OnEnd(context.Background(), "inbox")
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, "inbox", f.stageOf(t, "prj-1"))
	assert.Zero(t, f.persister.Count())
}

func TestDrop_MissingTargetReverts(t *testing.T) {
	for _, over := range []string{"", "not-a-column", "prj-unknown"} {
		t.Run(over, func(t *testing.T) {
			f := newFixture(t, models.AutomationAutoAll)
			require.NoError(t, f.ctrl.OnStart("prj-1"))
			f.ctrl.OnOver("design")
			require.Equal(t, "design", f.stageOf(t, "prj-1"))

			res, err := f.ctrl.OnEnd(context.Background(), over)
			require.NoError(t, err)

			assert.Equal(t, OutcomeReverted, res.Outcome)
			assert.Equal(t, "inbox", f.stageOf(t, "prj-1"))
			assert.Zero(t, f.gatewayCalls())
			_, dragging := f.board.DraggedProject()
			assert.False(t, dragging)
		})
	}
}

func TestDrop_OverInvalidTargetKeepsHoverStage(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	require.NoError(t, f.ctrl.OnStart("prj-1"))
	f.ctrl.OnOver("prd")
	f.ctrl.OnOver("nowhere")
	assert.Equal(t, "prd", f.stageOf(t, "prj-1"))
	assert.Zero(t, f.persister.Count())
}

func TestDrop_CommitsAndDispatches(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	require.NoError(t, f.ctrl.OnStart("prj-1"))

	res, err := f.ctrl.OnEnd(context.Background(), "prj-2")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, "prd", res.To)
	require.Len(t, f.persister.Calls, 1)
	assert.Equal(t, automationtest.PersistCall{ProjectID: "prj-1", Stage: "prd", TriggeredBy: models.TriggeredByUser}, f.persister.Calls[0])
	assert.Equal(t, []job.Type{job.GeneratePRD}, f.jobs.Types())

	c, _ := f.board.Card("prj-1")
	assert.Equal(t, "prd", c.Stage)
	assert.True(t, c.IsLocked)
	assert.Equal(t, 1, f.trigger.Count())
	require.NotNil(t, res.Run)
	assert.Equal(t, automation.StopManual, res.Run.Reason)
}

func TestDrop_PersistFailureReverts(t *testing.T) {
	f := newFixture(t, models.AutomationAutoAll)
	f.persister.FailOn["prd"] = errors.New("timeout")
	require.NoError(t, f.ctrl.OnStart("prj-1"))
	f.ctrl.OnOver("prd")

	res, err := f.ctrl.OnEnd(context.Background(), "prd")
	require.Error(t, err)
	assert.ErrorContains(t, err, "timeout")

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "inbox", f.stageOf(t, "prj-1"))
	assert.Zero(t, f.jobs.Count())
	assert.Nil(t, res.Run)
	assert.Equal(t, 1, f.logs.FilterMessage("stage persist failed; reverted").Len())
}

func TestInput_CancelRevertsWithoutCalls(t *testing.T) {
	f := newFixture(t, models.AutomationAutoAll)
	require.NoError(t, f.ctrl.OnStart("prj-1"))

	res, err := f.ctrl.OnEnd(context.Background(), stage.Discovery)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingInput, res.Outcome)
	require.NotNil(t, res.Pending)
	assert.Equal(t, "inbox", res.Pending.OriginalStage)
	assert.Equal(t, stage.Discovery, f.stageOf(t, "prj-1"), "optimistic placement while awaiting input")

	pm, ok := f.ctrl.Pending()
	require.True(t, ok)
	assert.Equal(t, stage.Discovery, pm.TargetStage)

	res, err = f.ctrl.Resolve(context.Background(), Cancelled())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReverted, res.Outcome)
	assert.Equal(t, "inbox", f.stageOf(t, "prj-1"))
	assert.Zero(t, f.gatewayCalls())
	_, ok = f.ctrl.Pending()
	assert.False(t, ok)
}

func TestInput_SkipCommitsWithoutTranscript(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	require.NoError(t, f.ctrl.OnStart("prj-1"))
	_, err := f.ctrl.OnEnd(context.Background(), stage.Discovery)
	require.NoError(t, err)

	res, err := f.ctrl.Resolve(context.Background(), Skipped())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, []string{stage.Discovery}, f.persister.Stages())
	require.Len(t, f.jobs.Calls, 1)
	assert.Nil(t, f.jobs.Calls[0].Input)
	assert.Zero(t, f.docs.Count())
}

func TestInput_ConfirmCreatesDocument(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	require.NoError(t, f.ctrl.OnStart("prj-1"))
	_, err := f.ctrl.OnEnd(context.Background(), stage.Discovery)
	require.NoError(t, err)

	res, err := f.ctrl.Resolve(context.Background(), Confirmed("they hate the coupon field"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCommitted, res.Outcome)
	require.Len(t, f.jobs.Calls, 1)
	assert.Equal(t, "they hate the coupon field", f.jobs.Calls[0].Input["transcript"])
	require.Equal(t, 1, f.docs.Count())
	assert.Equal(t, "prj-1", f.docs.Calls[0].ProjectID)
}

func TestInput_ConfirmHandsTranscriptToRunner(t *testing.T) {
	f := newFixture(t, models.AutomationAutoAll)
	require.NoError(t, f.ctrl.OnStart("prj-1"))
	_, err := f.ctrl.OnEnd(context.Background(), stage.Discovery)
	require.NoError(t, err)

	res, err := f.ctrl.Resolve(context.Background(), Confirmed("notes"))
	require.NoError(t, err)

	require.NotNil(t, res.Run)
	assert.Equal(t, []string{"prd", "design"}, res.Run.Entered)
	assert.Equal(t, []string{stage.Discovery, "prd", "design"}, f.persister.Stages())
	assert.Equal(t, models.TriggeredByUser, f.persister.Calls[0].TriggeredBy)
	assert.Equal(t, models.TriggeredByAutomation, f.persister.Calls[1].TriggeredBy)
}

func TestInput_ResolveWithoutPending(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	_, err := f.ctrl.Resolve(context.Background(), Skipped())
	assert.ErrorIs(t, err, ErrNoPendingMove)
}

func TestInput_PendingBlocksNewDrag(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	require.NoError(t, f.ctrl.OnStart("prj-1"))
	_, err := f.ctrl.OnEnd(context.Background(), stage.Discovery)
	require.NoError(t, err)

	assert.ErrorIs(t, f.ctrl.OnStart("prj-2"), ErrMovePending)
}

func TestInput_Collector(t *testing.T) {
	tests := []struct {
		name    string
		answer  InputResult
		outcome Outcome
		stage   string
		calls   int
	}{
		{"confirm", Confirmed("notes"), OutcomeCommitted, stage.Discovery, 1},
		{"skip", Skipped(), OutcomeCommitted, stage.Discovery, 1},
		{"cancel", Cancelled(), OutcomeReverted, "inbox", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.AutomationManual)
			var asked string
			f.ctrl.Collector = InputCollectorFunc(func(_ context.Context, name string, st models.Stage) (InputResult, error) {
				asked = name + "/" + st.ID
				return tt.answer, nil
			})

			res, err := f.ctrl.SetStage(context.Background(), "prj-1", stage.Discovery, nil)
			require.NoError(t, err)

			assert.Equal(t, "Checkout/discovery", asked)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.stage, f.stageOf(t, "prj-1"))
			assert.Equal(t, tt.calls, f.persister.Count())
		})
	}
}

func TestInput_CollectorError(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	f.ctrl.Collector = InputCollectorFunc(func(context.Context, string, models.Stage) (InputResult, error) {
		return InputResult{}, context.Canceled
	})

	res, err := f.ctrl.SetStage(context.Background(), "prj-1", stage.Discovery, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeReverted, res.Outcome)
	assert.Equal(t, "inbox", f.stageOf(t, "prj-1"))
	assert.Zero(t, f.persister.Count())
}

func TestSetStage(t *testing.T) {
	f := newFixture(t, models.AutomationManual)

	res, err := f.ctrl.SetStage(context.Background(), "prj-1", "design", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)

	res, err = f.ctrl.SetStage(context.Background(), "prj-1", "design", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 1, f.persister.Count())

	_, err = f.ctrl.SetStage(context.Background(), "prj-1", "ga", nil)
	assert.ErrorIs(t, err, stage.ErrStageNotFound)

	_, err = f.ctrl.SetStage(context.Background(), "prj-9", "prd", nil)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestSetStage_WithInputSkipsGate(t *testing.T) {
	f := newFixture(t, models.AutomationManual)

	res, err := f.ctrl.SetStage(context.Background(), "prj-1", stage.Discovery, &automation.Input{Transcript: "t"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, 1, f.docs.Count())
}

func TestCommit_BusyProject(t *testing.T) {
	f := newFixture(t, models.AutomationAutoAll)
	release, ok := f.ctrl.Guard.TryAcquire("prj-1")
	require.True(t, ok)
	defer release()

	res, err := f.ctrl.SetStage(context.Background(), "prj-1", "prd", nil)
	assert.ErrorIs(t, err, automation.ErrProjectBusy)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "inbox", f.stageOf(t, "prj-1"))
	assert.Zero(t, f.persister.Count())
}

func TestOnEnd_WithoutStart(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	_, err := f.ctrl.OnEnd(context.Background(), "prd")
	assert.ErrorIs(t, err, ErrNoActiveDrag)
	assert.ErrorIs(t, f.ctrl.OnStart("prj-404"), ErrProjectNotFound)
}

func TestSetStage_SecondAwaitingInputRejected(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	ctx := context.Background()

	res, err := f.ctrl.SetStage(ctx, "prj-1", stage.Discovery, nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingInput, res.Outcome)

	res, err = f.ctrl.SetStage(ctx, "prj-2", stage.Discovery, nil)
	assert.ErrorIs(t, err, ErrMovePending)
	assert.Equal(t, OutcomeReverted, res.Outcome)
	assert.Equal(t, "prd", f.stageOf(t, "prj-2"))

	pm, ok := f.ctrl.Pending()
	require.True(t, ok)
	assert.Equal(t, "prj-1", pm.ProjectID)

	res, err = f.ctrl.Resolve(ctx, Cancelled())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReverted, res.Outcome)
	assert.Equal(t, "inbox", f.stageOf(t, "prj-1"))
	assert.Zero(t, f.gatewayCalls())
}

func TestSetStage_NonInputMoveAllowedWhilePending(t *testing.T) {
	f := newFixture(t, models.AutomationManual)
	ctx := context.Background()

	_, err := f.ctrl.SetStage(ctx, "prj-1", stage.Discovery, nil)
	require.NoError(t, err)

	res, err := f.ctrl.SetStage(ctx, "prj-2", "design", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)

	pm, ok := f.ctrl.Pending()
	require.True(t, ok)
	assert.Equal(t, "prj-1", pm.ProjectID)
}

func TestCommit_AlreadyPersistedIsUnchanged(t *testing.T) {
	f := newFixture(t, models.AutomationAutoAll)
	f.persister.Stored["prj-1"] = "prd"

	res, err := f.ctrl.SetStage(context.Background(), "prj-1", "prd", nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, "prd", res.From)
	assert.Equal(t, "prd", f.stageOf(t, "prj-1"))
	assert.Zero(t, f.persister.Count())
	assert.Zero(t, f.jobs.Count())
	assert.Nil(t, res.Run)
}
