package pipeline

import (
	"context"
	"testing"

	"github.com/elmerpm/elmer/internal/automation"
	"github.com/elmerpm/elmer/internal/automation/automationtest"
	"github.com/elmerpm/elmer/internal/db"
	"github.com/elmerpm/elmer/internal/document"
	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/kanban"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/project"
	"github.com/elmerpm/elmer/internal/queue"
	"github.com/elmerpm/elmer/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testService(t *testing.T, policy models.AutomationPolicy) (*Service, *models.Project) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(gdb))

	_, err = workspace.Create(gdb, workspace.CreateOpts{ID: "ws-1", Name: "Core"})
	require.NoError(t, err)
	_, err = workspace.SetAutomation(gdb, "ws-1", policy)
	require.NoError(t, err)
	p, err := project.Create(gdb, project.CreateOpts{WorkspaceID: "ws-1", Name: "Checkout"})
	require.NoError(t, err)

	svc := New(gdb, metrics.New(), nil)
	svc.Trigger = &automationtest.Trigger{}
	return svc, p
}

func TestMove_AwaitingInputPersistsNothing(t *testing.T) {
	svc, p := testService(t, models.AutomationPolicy{Mode: models.AutomationAutoAll})

	res, err := svc.Move(context.Background(), p.ID, "discovery", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, kanban.OutcomeAwaitingInput, res.Outcome)
	require.NotNil(t, res.Pending)
	assert.Equal(t, "inbox", res.Pending.OriginalStage)

	got, err := project.Get(svc.DB, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "inbox", got.Stage)
	hist, err := project.History(svc.DB, p.ID)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestMove_WithTranscriptRunsToStopStage(t *testing.T) {
	svc, p := testService(t, models.AutomationPolicy{Mode: models.AutomationAutoToStage, StopStage: "design"})
	notifier := &automationtest.Notifier{}
	svc.Notifier = notifier

	res, err := svc.Move(context.Background(), p.ID, "discovery", &automation.Input{Transcript: "five interviews"}, nil)
	require.NoError(t, err)

	assert.Equal(t, kanban.OutcomeCommitted, res.Outcome)
	require.NotNil(t, res.Run)
	assert.Equal(t, []string{"prd", "design"}, res.Run.Entered)
	assert.Equal(t, automation.StopStage, res.Run.Reason)

	got, _ := project.Get(svc.DB, p.ID)
	assert.Equal(t, "design", got.Stage)

	hist, err := project.History(svc.DB, p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, models.TriggeredByUser, hist[0].TriggeredBy)
	assert.Equal(t, models.TriggeredByAutomation, hist[2].TriggeredBy)

	jobs, err := queue.List(svc.DB, queue.ListFilters{ProjectID: p.ID})
	require.NoError(t, err)
	var types []job.Type
	for _, j := range jobs {
		types = append(types, j.Type)
	}
	assert.ElementsMatch(t, []job.Type{job.AnalyzeTranscript, job.GeneratePRD, job.GenerateDesignBrief}, types)

	docs, err := document.List(svc.DB, p.ID, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "five interviews", docs[0].Content)

	require.Len(t, notifier.Gates, 1)
	assert.Equal(t, "Checkout", notifier.Gates[0].ProjectName)
}

func TestMove_ManualSkipInput(t *testing.T) {
	svc, p := testService(t, models.AutomationPolicy{Mode: models.AutomationManual})

	res, err := svc.Move(context.Background(), p.ID, "discovery", &automation.Input{}, nil)
	require.NoError(t, err)
	assert.Equal(t, kanban.OutcomeCommitted, res.Outcome)

	hist, _ := project.History(svc.DB, p.ID)
	assert.Len(t, hist, 1)
}

func TestRun_FromCurrentStage(t *testing.T) {
	svc, p := testService(t, models.AutomationPolicy{Mode: models.AutomationAutoAll})
	require.NoError(t, project.SetStage(svc.DB, p.ID, "discovery", models.TriggeredByUser))

	res, err := svc.Run(context.Background(), p.ID, nil)
	require.NoError(t, err)

	// the default registry gates at validate
	assert.Equal(t, []string{"prd", "design", "prototype", "validate"}, res.Entered)
	assert.Equal(t, automation.StopHumanInLoop, res.Reason)
}

func TestSnapshot(t *testing.T) {
	svc, p := testService(t, models.AutomationPolicy{Mode: models.AutomationManual})
	_, err := queue.Enqueue(svc.DB, queue.EnqueueOpts{WorkspaceID: "ws-1", ProjectID: p.ID, Type: job.GeneratePRD})
	require.NoError(t, err)

	view, err := svc.Snapshot(context.Background(), "ws-1")
	require.NoError(t, err)

	require.Len(t, view.Columns, 11)
	assert.Equal(t, "inbox", view.Columns[0].Stage.ID)
	require.Len(t, view.Columns[0].Cards, 1)
	card := view.Columns[0].Cards[0]
	assert.True(t, card.IsLocked)
	assert.Equal(t, job.GeneratePRD, card.ActiveJobType)
	assert.Empty(t, view.Orphans)
}

func TestLoad_UnknownWorkspace(t *testing.T) {
	svc, _ := testService(t, models.AutomationPolicy{Mode: models.AutomationManual})
	_, err := svc.Load(context.Background(), "ws-404")
	assert.ErrorIs(t, err, workspace.ErrNotFound)
}

func TestMove_StaleSessionsDispatchOnce(t *testing.T) {
	svc, p := testService(t, models.AutomationPolicy{Mode: models.AutomationManual})
	ctx := context.Background()

	s1, err := svc.ForProject(ctx, p.ID)
	require.NoError(t, err)
	s2, err := svc.ForProject(ctx, p.ID)
	require.NoError(t, err)

	res, err := s1.Controller.SetStage(ctx, p.ID, "prd", nil)
	require.NoError(t, err)
	assert.Equal(t, kanban.OutcomeCommitted, res.Outcome)

	res, err = s2.Controller.SetStage(ctx, p.ID, "prd", nil)
	require.NoError(t, err)
	assert.Equal(t, kanban.OutcomeUnchanged, res.Outcome)
	card, ok := s2.Board.Card(p.ID)
	require.True(t, ok)
	assert.Equal(t, "prd", card.Stage)

	jobs, err := queue.List(svc.DB, queue.ListFilters{ProjectID: p.ID})
	require.NoError(t, err)
	prd := 0
	for _, j := range jobs {
		if j.Type == job.GeneratePRD {
			prd++
		}
	}
	assert.Equal(t, 1, prd)

	hist, err := project.History(svc.DB, p.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}
