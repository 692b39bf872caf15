package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elmerpm/elmer/internal/automation"
	"github.com/elmerpm/elmer/internal/document"
	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/kanban"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/pipeline"
	"github.com/elmerpm/elmer/internal/project"
	"github.com/elmerpm/elmer/internal/queue"
	"github.com/elmerpm/elmer/internal/stage"
	"github.com/elmerpm/elmer/internal/workspace"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type handlers struct {
	db        *gorm.DB
	svc       *pipeline.Service
	processor JobProcessor
	log       *zap.Logger
	ssePoll   time.Duration
}

// fail maps engine errors onto HTTP statuses.
func (h *handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, project.ErrNotFound),
		errors.Is(err, workspace.ErrNotFound),
		errors.Is(err, queue.ErrNotFound),
		errors.Is(err, kanban.ErrProjectNotFound):
		status = http.StatusNotFound
	case errors.Is(err, automation.ErrProjectBusy),
		errors.Is(err, kanban.ErrMovePending):
		status = http.StatusConflict
	case errors.Is(err, stage.ErrStageNotFound),
		errors.Is(err, stage.ErrStageDisabled),
		errors.Is(err, job.ErrUnknownJobType):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *handlers) health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) board(c *gin.Context) {
	view, err := h.svc.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) setAutomation(c *gin.Context) {
	var p models.AutomationPolicy
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if !p.Mode.Valid() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid automation_mode"})
		return
	}
	ws, err := workspace.SetAutomation(h.db.WithContext(c.Request.Context()), c.Param("id"), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *handlers) listStages(c *gin.Context) {
	stages, err := stage.List(h.db.WithContext(c.Request.Context()), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stages)
}

func (h *handlers) putStage(c *gin.Context) {
	var s models.Stage
	if err := c.ShouldBindJSON(&s); err != nil {
		badRequest(c, err)
		return
	}
	s.WorkspaceID = c.Param("id")
	s.ID = c.Param("stage")
	db := h.db.WithContext(c.Request.Context())
	if _, err := workspace.Get(db, s.WorkspaceID); err != nil {
		h.fail(c, err)
		return
	}
	if err := stage.Upsert(db, s); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	got, err := stage.Get(db, s.WorkspaceID, s.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, got)
}

type createProjectRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Stage       string `json:"stage"`
}

func (h *handlers) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	db := h.db.WithContext(c.Request.Context())
	if _, err := workspace.Get(db, req.WorkspaceID); err != nil {
		h.fail(c, err)
		return
	}
	p, err := project.Create(db, project.CreateOpts{
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Description: req.Description,
		Stage:       req.Stage,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *handlers) getProject(c *gin.Context) {
	p, err := project.Get(h.db.WithContext(c.Request.Context()), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) deleteProject(c *gin.Context) {
	if err := project.Delete(h.db.WithContext(c.Request.Context()), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) history(c *gin.Context) {
	db := h.db.WithContext(c.Request.Context())
	if _, err := project.Get(db, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	hist, err := project.History(db, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

type setStageRequest struct {
	Stage       string             `json:"stage" binding:"required"`
	TriggeredBy models.TriggeredBy `json:"triggered_by"`
}

// setStage is the raw persistence gateway: no input gating, no dispatch.
func (h *handlers) setStage(c *gin.Context) {
	var req setStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = models.TriggeredByUser
	}
	if req.TriggeredBy != models.TriggeredByUser && req.TriggeredBy != models.TriggeredByAutomation {
		c.JSON(http.StatusBadRequest, gin.H{"error": "triggered_by must be user or automation"})
		return
	}
	id := c.Param("id")
	release, ok := h.svc.Guard.TryAcquire(id)
	if !ok {
		h.fail(c, fmt.Errorf("api: set stage %s: %w", id, automation.ErrProjectBusy))
		return
	}
	defer release()

	gw := project.Gateway{DB: h.db}
	if err := gw.SetProjectStage(c.Request.Context(), id, req.Stage, req.TriggeredBy); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stage": req.Stage})
}

type moveRequest struct {
	Stage     string            `json:"stage" binding:"required"`
	Input     *automation.Input `json:"input"`
	SkipInput bool              `json:"skip_input"`
}

func (h *handlers) move(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	in := req.Input
	if in == nil && req.SkipInput {
		in = &automation.Input{}
	}
	res, err := h.svc.Move(c.Request.Context(), c.Param("id"), req.Stage, in, nil)
	if err != nil {
		if res.Outcome == kanban.OutcomeFailed && !errors.Is(err, automation.ErrProjectBusy) {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": res})
			return
		}
		h.fail(c, err)
		return
	}
	if res.Outcome == kanban.OutcomeAwaitingInput {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

type runRequest struct {
	Input *automation.Input `json:"input"`
}

func (h *handlers) run(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	res, err := h.svc.Run(c.Request.Context(), c.Param("id"), req.Input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) projectJobs(c *gin.Context) {
	jobs, err := queue.List(h.db.WithContext(c.Request.Context()), queue.ListFilters{
		ProjectID: c.Param("id"),
		Status:    job.Status(c.Query("status")),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

type enqueueRequest struct {
	WorkspaceID string         `json:"workspace_id" binding:"required"`
	ProjectID   string         `json:"project_id" binding:"required"`
	Type        string         `json:"type" binding:"required"`
	Input       map[string]any `json:"input"`
}

func (h *handlers) enqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := job.Parse(req.Type)
	if err != nil {
		h.fail(c, err)
		return
	}
	gw := queue.Gateway{DB: h.db}
	id, err := gw.EnqueueJob(c.Request.Context(), req.WorkspaceID, req.ProjectID, t, req.Input)
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.svc.Trigger != nil {
		h.svc.Trigger.TriggerProcessing()
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "job_id": id})
}

func (h *handlers) processJobs(c *gin.Context) {
	if h.processor == nil {
		if h.svc.Trigger != nil {
			h.svc.Trigger.TriggerProcessing()
			c.JSON(http.StatusAccepted, gin.H{"triggered": true})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no job processor configured"})
		return
	}
	n, err := h.processor.Drain(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": n})
}

type documentRequest struct {
	Type     string         `json:"type" binding:"required"`
	Title    string         `json:"title" binding:"required"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

func (h *handlers) listDocuments(c *gin.Context) {
	docs, err := document.List(h.db.WithContext(c.Request.Context()), c.Param("id"), c.Query("type"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h *handlers) createDocument(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if _, err := project.Get(h.db.WithContext(ctx), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	gw := document.Gateway{DB: h.db, Syncer: h.svc.Syncer, Log: h.log}
	id, err := gw.CreateDocument(ctx, c.Param("id"), req.Type, req.Title, req.Content, req.Metadata)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "document_id": id})
}
