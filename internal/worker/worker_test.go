package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/queue"
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

func enqueue(t *testing.T, db *gorm.DB, jt job.Type, input map[string]any) *models.Job {
	t.Helper()
	j, err := queue.Enqueue(db, queue.EnqueueOpts{WorkspaceID: "ws-1", ProjectID: "prj-1", Type: jt, Input: input})
	require.NoError(t, err)
	return j
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup(job.GeneratePRD)
	assert.False(t, ok)

	h := HandlerFunc(func(context.Context, *models.Job, ProgressFunc) (map[string]any, error) { return nil, nil })
	require.NoError(t, r.Register(job.GeneratePRD, h))
	_, ok = r.Lookup(job.GeneratePRD)
	assert.True(t, ok)

	err := r.Register(job.Type("nope"), h)
	assert.ErrorIs(t, err, job.ErrUnknownJobType)

	r.SetFallback(h)
	_, ok = r.Lookup(job.BuildPrototype)
	assert.True(t, ok)
}

func TestProcessOnce_Completes(t *testing.T) {
	db := testDB(t)
	m := metrics.New()
	reg := NewRegistry()
	require.NoError(t, reg.Register(job.GeneratePRD, HandlerFunc(func(_ context.Context, j *models.Job, progress ProgressFunc) (map[string]any, error) {
		progress(0.5)
		return map[string]any{"document_id": "doc-1"}, nil
	})))
	p := NewPool(db, PoolOpts{ID: "w1", Handlers: reg, Metrics: m})
	queued := enqueue(t, db, job.GeneratePRD, nil)

	ok, err := p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := queue.Get(db, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, "doc-1", got.Output["document_id"])
	assert.Equal(t, "w1", got.WorkerID)

	ok, err = p.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessOnce_Failures(t *testing.T) {
	db := testDB(t)
	reg := NewRegistry()
	require.NoError(t, reg.Register(job.GeneratePRD, HandlerFunc(func(context.Context, *models.Job, ProgressFunc) (map[string]any, error) {
		return nil, errors.New("model timeout")
	})))
	p := NewPool(db, PoolOpts{ID: "w1", Handlers: reg})
	failing := enqueue(t, db, job.GeneratePRD, nil)
	unhandled := enqueue(t, db, job.DeployChromatic, nil)

	n, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := queue.Get(db, failing.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "model timeout", got.Error)

	got, _ = queue.Get(db, unhandled.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "no handler")
}

func TestWake_Coalesces(t *testing.T) {
	p := NewPool(testDB(t), PoolOpts{ID: "w1"})
	p.Wake()
	p.TriggerProcessing()
	p.Wake()
	assert.Len(t, p.wake, 1)
}

func TestRun_ProcessesOnWake(t *testing.T) {
	db := testDB(t)
	var done atomic.Int32
	reg := NewRegistry()
	reg.SetFallback(HandlerFunc(func(context.Context, *models.Job, ProgressFunc) (map[string]any, error) {
		done.Add(1)
		return nil, nil
	}))
	p := NewPool(db, PoolOpts{ID: "w1", Handlers: reg, PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	enqueue(t, db, job.GeneratePRD, nil)
	p.Wake()
	require.Eventually(t, func() bool { return done.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestWebhookHandler(t *testing.T) {
	var got webhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":{"summary":"done"}}`))
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.URL)
	var reported float64
	out, err := h.Handle(context.Background(), &models.Job{
		ID: "job-1", WorkspaceID: "ws-1", ProjectID: "prj-1", Type: job.AnalyzeTranscript,
		Input: map[string]any{"transcript": "t"}, Attempts: 1,
	}, func(v float64) { reported = v })
	require.NoError(t, err)

	assert.Equal(t, "done", out["summary"])
	assert.Equal(t, "analyze_transcript", got.Type)
	assert.Equal(t, "t", got.Input["transcript"])
	assert.Equal(t, 0.1, reported)
}

func TestWebhookHandler_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"server error", http.StatusBadGateway, `{"error":"agent crashed"}`, "agent crashed"},
		{"plain status", http.StatusServiceUnavailable, ``, "503"},
		{"error in body", http.StatusOK, `{"error":"bad input"}`, "bad input"},
		{"garbage", http.StatusOK, `not json`, "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewWebhookHandler(srv.URL).Handle(context.Background(), &models.Job{ID: "job-1"}, func(float64) {})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSweeper(t *testing.T) {
	db := testDB(t)
	j := enqueue(t, db, job.GeneratePRD, nil)
	_, err := queue.Claim(db, "w-dead")
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", j.ID).
		Update("started_at", time.Now().Add(-2*time.Hour)).Error)

	p := NewPool(db, PoolOpts{ID: "w1"})
	s := &Sweeper{DB: db, Pool: p, StaleAfter: time.Hour}
	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, p.wake, 1)

	got, _ := queue.Get(db, j.ID)
	assert.Equal(t, job.StatusPending, got.Status)
}

func TestSweeper_FailsExhaustedJobs(t *testing.T) {
	db := testDB(t)
	j := enqueue(t, db, job.GeneratePRD, nil)
	_, err := queue.Claim(db, "w-dead")
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", j.ID).
		Update("started_at", time.Now().Add(-2*time.Hour)).Error)

	s := &Sweeper{DB: db, StaleAfter: time.Hour, MaxAttempts: 1}
	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	got, _ := queue.Get(db, j.ID)
	assert.Equal(t, job.StatusFailed, got.Status)
}

func TestSweeper_Start(t *testing.T) {
	s := &Sweeper{DB: testDB(t), StaleAfter: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NoError(t, s.Start(ctx, "*/5 * * * *"))
	assert.Error(t, s.Start(ctx, "not a schedule"))
}

func TestNextSweep(t *testing.T) {
	d := NextSweep("* * * * *")
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, time.Minute)
	assert.Zero(t, NextSweep("bad"))
}
