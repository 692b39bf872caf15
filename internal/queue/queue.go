// Package queue stores dispatched jobs and implements the job dispatch
// gateway along with the worker-side claim/complete lifecycle.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elmerpm/elmer/internal/idgen"
	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors.
var (
	ErrNoJobs   = errors.New("no pending jobs")
	ErrNotFound = errors.New("job not found")
)

// EnqueueOpts holds parameters for enqueueing a job.
type EnqueueOpts struct {
	WorkspaceID string
	ProjectID   string
	Type        job.Type
	Input       map[string]any
}

// ListFilters holds optional filters for listing jobs.
type ListFilters struct {
	WorkspaceID string
	ProjectID   string
	Status      job.Status
	Limit       int
}

// Enqueue stores a new pending job.
func Enqueue(db *gorm.DB, opts EnqueueOpts) (*models.Job, error) {
	if opts.WorkspaceID == "" {
		return nil, fmt.Errorf("queue: workspace is required")
	}
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("queue: project is required")
	}
	if !opts.Type.Valid() {
		return nil, fmt.Errorf("queue: %w: %q", job.ErrUnknownJobType, opts.Type)
	}

	id, err := idgen.New(idgen.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	j := models.Job{
		ID:          id,
		WorkspaceID: opts.WorkspaceID,
		ProjectID:   opts.ProjectID,
		Type:        opts.Type,
		Status:      job.StatusPending,
		Input:       opts.Input,
	}
	if err := db.Create(&j).Error; err != nil {
		return nil, fmt.Errorf("queue: enqueue %s for %s: %w", opts.Type, opts.ProjectID, err)
	}
	return &j, nil
}

// Get retrieves a job by ID.
func Get(db *gorm.DB, id string) (*models.Job, error) {
	var j models.Job
	if err := db.Where("id = ?", id).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("queue: %w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("queue: get %s: %w", id, err)
	}
	return &j, nil
}

// List returns jobs matching the filters, newest first.
func List(db *gorm.DB, filters ListFilters) ([]models.Job, error) {
	q := db.Model(&models.Job{})
	if filters.WorkspaceID != "" {
		q = q.Where("workspace_id = ?", filters.WorkspaceID)
	}
	if filters.ProjectID != "" {
		q = q.Where("project_id = ?", filters.ProjectID)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.Limit > 0 {
		q = q.Limit(filters.Limit)
	}
	var jobs []models.Job
	if err := q.Order("created_at DESC, id DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	return jobs, nil
}

// Active returns the non-terminal jobs of a workspace keyed by project,
// oldest job first per project.
func Active(db *gorm.DB, workspaceID string) (map[string][]models.Job, error) {
	var jobs []models.Job
	if err := db.Where("workspace_id = ? AND status IN ?", workspaceID, []job.Status{job.StatusPending, job.StatusRunning}).
		Order("created_at ASC, id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("queue: active %s: %w", workspaceID, err)
	}
	out := make(map[string][]models.Job)
	for _, j := range jobs {
		out[j.ProjectID] = append(out[j.ProjectID], j)
	}
	return out, nil
}

// UpdatedSince returns jobs changed at or after t, oldest change first.
// Callers polling with a cursor must skip changes they already saw at t.
func UpdatedSince(db *gorm.DB, t time.Time) ([]models.Job, error) {
	var jobs []models.Job
	if err := db.Where("updated_at >= ?", t).Order("updated_at ASC, id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("queue: updated since: %w", err)
	}
	return jobs, nil
}

// Claim atomically takes the oldest pending job for a worker. It returns an
// error wrapping ErrNoJobs when the queue is empty.
func Claim(db *gorm.DB, workerID string) (*models.Job, error) {
	if workerID == "" {
		return nil, fmt.Errorf("queue: workerID is required")
	}

	var claimed models.Job
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("status = ?", job.StatusPending).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("created_at ASC, id ASC").
			Limit(1).
			Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("queue: find pending job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("queue: %w", ErrNoJobs)
		}

		now := time.Now()
		upd := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", claimed.ID, job.StatusPending).
			Updates(map[string]interface{}{
				"status":     job.StatusRunning,
				"worker_id":  workerID,
				"started_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if upd.Error != nil {
			return fmt.Errorf("queue: claim %s: %w", claimed.ID, upd.Error)
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("queue: %w", ErrNoJobs)
		}
		claimed.Status = job.StatusRunning
		claimed.WorkerID = workerID
		claimed.StartedAt = &now
		claimed.Attempts++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// UpdateProgress records a running job's progress, clamped to [0, 1].
func UpdateProgress(db *gorm.DB, id string, progress float64) error {
	progress = min(max(progress, 0), 1)
	return update(db, id, map[string]interface{}{"progress": progress})
}

// Complete marks a job completed with its output.
func Complete(db *gorm.DB, id string, output map[string]any) error {
	now := time.Now()
	result := db.Model(&models.Job{}).Where("id = ?", id).
		Select("status", "progress", "output", "error", "completed_at").
		Updates(&models.Job{
			Status:      job.StatusCompleted,
			Progress:    1,
			Output:      output,
			CompletedAt: &now,
		})
	return checkUpdate(result, id, "complete")
}

// Fail marks a job failed with a reason.
func Fail(db *gorm.DB, id string, reason string) error {
	now := time.Now()
	return update(db, id, map[string]interface{}{
		"status":       job.StatusFailed,
		"error":        reason,
		"completed_at": now,
	})
}

// Cancel cancels a job that has not finished yet.
func Cancel(db *gorm.DB, id string) error {
	result := db.Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, []job.Status{job.StatusPending, job.StatusRunning}).
		Updates(map[string]interface{}{"status": job.StatusCancelled, "completed_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("queue: cancel %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := Get(db, id); err != nil {
			return err
		}
		return fmt.Errorf("queue: job %s already finished", id)
	}
	return nil
}

// StaleResult counts what RequeueStale did.
type StaleResult struct {
	Requeued int64
	Failed   int64
}

// RequeueStale returns running jobs started before now-olderThan to pending.
// Stale jobs that have already been claimed maxAttempts times are failed
// instead. A maxAttempts of zero or less requeues without limit.
func RequeueStale(db *gorm.DB, olderThan time.Duration, maxAttempts int) (StaleResult, error) {
	var res StaleResult
	now := time.Now()
	cutoff := now.Add(-olderThan)

	err := db.Transaction(func(tx *gorm.DB) error {
		if maxAttempts > 0 {
			result := tx.Model(&models.Job{}).
				Where("status = ? AND started_at < ? AND attempts >= ?", job.StatusRunning, cutoff, maxAttempts).
				Updates(map[string]interface{}{
					"status":       job.StatusFailed,
					"error":        fmt.Sprintf("stalled after %d attempts", maxAttempts),
					"completed_at": now,
				})
			if result.Error != nil {
				return result.Error
			}
			res.Failed = result.RowsAffected
		}
		result := tx.Model(&models.Job{}).
			Where("status = ? AND started_at < ?", job.StatusRunning, cutoff).
			Updates(map[string]interface{}{"status": job.StatusPending, "worker_id": "", "started_at": nil})
		if result.Error != nil {
			return result.Error
		}
		res.Requeued = result.RowsAffected
		return nil
	})
	if err != nil {
		return StaleResult{}, fmt.Errorf("queue: requeue stale: %w", err)
	}
	return res, nil
}

func update(db *gorm.DB, id string, updates map[string]interface{}) error {
	result := db.Model(&models.Job{}).Where("id = ?", id).Updates(updates)
	return checkUpdate(result, id, "update")
}

func checkUpdate(result *gorm.DB, id, action string) error {
	if result.Error != nil {
		return fmt.Errorf("queue: %s %s: %w", action, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("queue: %w: %s", ErrNotFound, id)
	}
	return nil
}

// Gateway adapts the queue to the job dispatch contract.
type Gateway struct {
	DB *gorm.DB
}

// EnqueueJob implements the job dispatch gateway and returns the new job ID.
func (g Gateway) EnqueueJob(ctx context.Context, workspaceID, projectID string, t job.Type, input map[string]any) (string, error) {
	j, err := Enqueue(g.DB.WithContext(ctx), EnqueueOpts{
		WorkspaceID: workspaceID,
		ProjectID:   projectID,
		Type:        t,
		Input:       input,
	})
	if err != nil {
		return "", err
	}
	return j.ID, nil
}
