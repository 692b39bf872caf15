package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Job{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func enqueue(t *testing.T, db *gorm.DB, projectID string, jt job.Type) *models.Job {
	t.Helper()
	j, err := Enqueue(db, EnqueueOpts{WorkspaceID: "ws-1", ProjectID: projectID, Type: jt})
	require.NoError(t, err)
	return j
}

func TestEnqueue(t *testing.T) {
	db := testDB(t)
	j, err := Enqueue(db, EnqueueOpts{
		WorkspaceID: "ws-1",
		ProjectID:   "prj-1",
		Type:        job.AnalyzeTranscript,
		Input:       map[string]any{"transcript": "we interviewed five users"},
	})
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)

	got, err := Get(db, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.AnalyzeTranscript, got.Type)
	assert.Equal(t, "we interviewed five users", got.Input["transcript"])
}

func TestEnqueue_Validation(t *testing.T) {
	db := testDB(t)
	tests := []struct {
		name string
		opts EnqueueOpts
		want string
	}{
		{"missing workspace", EnqueueOpts{ProjectID: "p", Type: job.GeneratePRD}, "workspace is required"},
		{"missing project", EnqueueOpts{WorkspaceID: "w", Type: job.GeneratePRD}, "project is required"},
		{"unknown type", EnqueueOpts{WorkspaceID: "w", ProjectID: "p", Type: "make_coffee"}, "unknown job type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Enqueue(db, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestClaim_OldestFirst(t *testing.T) {
	db := testDB(t)
	first := enqueue(t, db, "prj-1", job.GeneratePRD)
	db.Model(&models.Job{}).Where("id = ?", first.ID).Update("created_at", time.Now().Add(-time.Minute))
	second := enqueue(t, db, "prj-2", job.GenerateTickets)

	got, err := Claim(db, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, job.StatusRunning, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.StartedAt)

	got, err = Claim(db, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = Claim(db, "worker-3")
	assert.True(t, errors.Is(err, ErrNoJobs))
}

func TestClaim_RequiresWorker(t *testing.T) {
	_, err := Claim(testDB(t), "")
	require.Error(t, err)
}

func TestLifecycle_CompleteFailCancel(t *testing.T) {
	db := testDB(t)
	a := enqueue(t, db, "prj-1", job.GeneratePRD)
	b := enqueue(t, db, "prj-1", job.GenerateDesignBrief)
	c := enqueue(t, db, "prj-1", job.BuildPrototype)

	require.NoError(t, UpdateProgress(db, a.ID, 1.7))
	got, _ := Get(db, a.ID)
	assert.Equal(t, 1.0, got.Progress, "progress is clamped")

	require.NoError(t, Complete(db, a.ID, map[string]any{"document_id": "doc-1"}))
	got, _ = Get(db, a.ID)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, "doc-1", got.Output["document_id"])
	assert.NotNil(t, got.CompletedAt)

	require.NoError(t, Fail(db, b.ID, "model timeout"))
	got, _ = Get(db, b.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "model timeout", got.Error)

	require.NoError(t, Cancel(db, c.ID))
	got, _ = Get(db, c.ID)
	assert.Equal(t, job.StatusCancelled, got.Status)

	err := Cancel(db, a.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finished")

	assert.True(t, errors.Is(Cancel(db, "job-missing"), ErrNotFound))
	assert.True(t, errors.Is(Complete(db, "job-missing", nil), ErrNotFound))
}

func TestActiveAndList(t *testing.T) {
	db := testDB(t)
	enqueue(t, db, "prj-1", job.GeneratePRD)
	done := enqueue(t, db, "prj-1", job.GenerateDesignBrief)
	enqueue(t, db, "prj-2", job.BuildPrototype)
	require.NoError(t, Complete(db, done.ID, nil))

	active, err := Active(db, "ws-1")
	require.NoError(t, err)
	assert.Len(t, active["prj-1"], 1)
	assert.Len(t, active["prj-2"], 1)

	all, err := List(db, ListFilters{ProjectID: "prj-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := List(db, ListFilters{Status: job.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)
}

func TestRequeueStale(t *testing.T) {
	db := testDB(t)
	j := enqueue(t, db, "prj-1", job.GeneratePRD)
	_, err := Claim(db, "worker-1")
	require.NoError(t, err)
	db.Model(&models.Job{}).Where("id = ?", j.ID).Update("started_at", time.Now().Add(-time.Hour))

	res, err := RequeueStale(db, 30*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, StaleResult{Requeued: 1}, res)

	got, _ := Get(db, j.ID)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.Empty(t, got.WorkerID)
}

func TestRequeueStale_FailsAtMaxAttempts(t *testing.T) {
	db := testDB(t)
	j := enqueue(t, db, "prj-1", job.GeneratePRD)
	stall := func() {
		t.Helper()
		_, err := Claim(db, "worker-1")
		require.NoError(t, err)
		require.NoError(t, db.Model(&models.Job{}).Where("id = ?", j.ID).
			Update("started_at", time.Now().Add(-time.Hour)).Error)
	}

	stall()
	res, err := RequeueStale(db, 30*time.Minute, 2)
	require.NoError(t, err)
	assert.Equal(t, StaleResult{Requeued: 1}, res)

	stall()
	res, err = RequeueStale(db, 30*time.Minute, 2)
	require.NoError(t, err)
	assert.Equal(t, StaleResult{Failed: 1}, res)

	got, _ := Get(db, j.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Contains(t, got.Error, "stalled after 2 attempts")
	assert.NotNil(t, got.CompletedAt)

	_, err = Claim(db, "worker-2")
	assert.ErrorIs(t, err, ErrNoJobs)
}

func TestRequeueStale_Unlimited(t *testing.T) {
	db := testDB(t)
	j := enqueue(t, db, "prj-1", job.GeneratePRD)
	for i := 0; i < 5; i++ {
		_, err := Claim(db, "worker-1")
		require.NoError(t, err)
		require.NoError(t, db.Model(&models.Job{}).Where("id = ?", j.ID).
			Update("started_at", time.Now().Add(-time.Hour)).Error)
		res, err := RequeueStale(db, 30*time.Minute, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Requeued)
	}
}

func TestUpdatedSince(t *testing.T) {
	db := testDB(t)
	mark := time.Now().Add(-time.Second)
	j := enqueue(t, db, "prj-1", job.GeneratePRD)

	jobs, err := UpdatedSince(db, mark)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, j.ID, jobs[0].ID)

	got, err := Get(db, j.ID)
	require.NoError(t, err)
	jobs, err = UpdatedSince(db, got.UpdatedAt)
	require.NoError(t, err)
	require.Len(t, jobs, 1, "a change exactly at t is included")

	jobs, err = UpdatedSince(db, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestGateway_EnqueueJob(t *testing.T) {
	db := testDB(t)
	gw := Gateway{DB: db}
	id, err := gw.EnqueueJob(context.Background(), "ws-1", "prj-1", job.ExecuteAgentDefinition, map[string]any{"agent_definition_id": "agent-a"})
	require.NoError(t, err)

	got, err := Get(db, id)
	require.NoError(t, err)
	assert.Equal(t, "agent-a", got.Input["agent_definition_id"])

	_, err = gw.EnqueueJob(context.Background(), "ws-1", "prj-1", "bogus", nil)
	assert.True(t, errors.Is(err, job.ErrUnknownJobType))
}
