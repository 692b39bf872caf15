// Package pipeline assembles the transition controller and automation runner
// for a workspace from the database and exposes the operations the API and
// CLI drive.
package pipeline

import (
	"context"
	"fmt"

	"github.com/elmerpm/elmer/internal/automation"
	"github.com/elmerpm/elmer/internal/board"
	"github.com/elmerpm/elmer/internal/document"
	"github.com/elmerpm/elmer/internal/kanban"
	"github.com/elmerpm/elmer/internal/logging"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/project"
	"github.com/elmerpm/elmer/internal/queue"
	"github.com/elmerpm/elmer/internal/stage"
	"github.com/elmerpm/elmer/internal/workspace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service wires gorm-backed gateways into the engine. A single Service is
// shared by every request so its Guard serializes transitions per project.
type Service struct {
	DB       *gorm.DB
	Guard    *automation.Guard
	Trigger  automation.ProcessingTrigger // optional
	Notifier automation.Notifier          // optional
	Syncer   document.Syncer              // optional
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// New creates a service with a fresh guard.
func New(db *gorm.DB, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{DB: db, Guard: automation.NewGuard(), Metrics: m, Log: logging.OrNop(log)}
}

// Session is the engine assembled for one workspace at one point in time.
type Session struct {
	Workspace  models.Workspace
	Board      *board.Board
	Dispatcher *automation.Dispatcher
	Runner     *automation.Runner
	Controller *kanban.Controller
}

// Load reads a workspace's stages, projects and active jobs and builds the
// engine over them.
func (s *Service) Load(ctx context.Context, workspaceID string) (*Session, error) {
	db := s.DB.WithContext(ctx)
	ws, err := workspace.Get(db, workspaceID)
	if err != nil {
		return nil, err
	}
	stages, err := stage.List(db, workspaceID)
	if err != nil {
		return nil, err
	}
	projects, err := project.List(db, project.ListFilters{WorkspaceID: workspaceID})
	if err != nil {
		return nil, err
	}
	active, err := queue.Active(db, workspaceID)
	if err != nil {
		return nil, err
	}

	b := board.New(stages, projects)
	for projectID, jobs := range active {
		first := jobs[0]
		b.UpdateProject(projectID, func(c *board.Card) {
			c.ActiveJobType = first.Type
			c.ActiveJobProgress = first.Progress
			c.ActiveJobStatus = first.Status
			c.IsLocked = true
		})
	}

	log := logging.OrNop(s.Log).With(zap.String("workspace_id", workspaceID))
	persister := project.Gateway{DB: s.DB}
	disp := &automation.Dispatcher{
		Jobs:      queue.Gateway{DB: s.DB},
		Documents: document.Gateway{DB: s.DB, Syncer: s.Syncer, Log: log},
		Trigger:   s.Trigger,
		State:     b,
		Metrics:   s.Metrics,
		Log:       log,
	}
	runner := &automation.Runner{
		WorkspaceID: ws.ID,
		Policy:      ws.Policy(),
		Stages:      stages,
		State:       b,
		Persister:   persister,
		Dispatcher:  disp,
		Guard:       s.Guard,
		Notifier:    s.Notifier,
		Metrics:     s.Metrics,
		Log:         log,
	}
	ctrl := &kanban.Controller{
		State:      b,
		Persister:  persister,
		Dispatcher: disp,
		Runner:     runner,
		Guard:      s.Guard,
		Metrics:    s.Metrics,
		Log:        log,
	}
	return &Session{Workspace: *ws, Board: b, Dispatcher: disp, Runner: runner, Controller: ctrl}, nil
}

// ForProject loads the session of the workspace a project belongs to.
func (s *Service) ForProject(ctx context.Context, projectID string) (*Session, error) {
	p, err := project.Get(s.DB.WithContext(ctx), projectID)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, p.WorkspaceID)
}

// Move requests a transition of projectID to target. When target needs input
// and in is nil, collector is asked; without a collector the result is
// OutcomeAwaitingInput and nothing is persisted.
func (s *Service) Move(ctx context.Context, projectID, target string, in *automation.Input, collector kanban.InputCollector) (kanban.Result, error) {
	sess, err := s.ForProject(ctx, projectID)
	if err != nil {
		return kanban.Result{}, err
	}
	if in == nil && collector == nil && stage.RequiresInput(target) {
		card, _ := sess.Board.Card(projectID)
		if card.Stage != target {
			st, ok := stage.Lookup(stage.EnabledSorted(sess.Board.Columns()), target)
			if !ok {
				return kanban.Result{}, fmt.Errorf("pipeline: move %s -> %s: %w", projectID, target, stage.ErrStageNotFound)
			}
			return kanban.Result{
				ProjectID: projectID,
				From:      card.Stage,
				To:        target,
				Outcome:   kanban.OutcomeAwaitingInput,
				Pending: &kanban.PendingMove{
					ProjectID:     projectID,
					Project:       card,
					OriginalStage: card.Stage,
					TargetStage:   target,
					TargetColumn:  st,
				},
			}, nil
		}
	}
	sess.Controller.Collector = collector
	return sess.Controller.SetStage(ctx, projectID, target, in)
}

// Run starts automation from the project's current stage.
func (s *Service) Run(ctx context.Context, projectID string, in *automation.Input) (automation.RunResult, error) {
	sess, err := s.ForProject(ctx, projectID)
	if err != nil {
		return automation.RunResult{}, err
	}
	card, _ := sess.Board.Card(projectID)
	return sess.Runner.Run(ctx, projectID, card.Stage, in)
}

// Snapshot returns the board of a workspace grouped by enabled column.
func (s *Service) Snapshot(ctx context.Context, workspaceID string) (BoardView, error) {
	sess, err := s.Load(ctx, workspaceID)
	if err != nil {
		return BoardView{}, err
	}
	cols, orphans := board.Snapshot(sess.Board, stage.EnabledSorted(sess.Board.Columns()))
	return BoardView{Workspace: sess.Workspace, Columns: cols, Orphans: orphans}, nil
}

// BoardView is the serialized board.
type BoardView struct {
	Workspace models.Workspace `json:"workspace"`
	Columns   []board.Column   `json:"columns"`
	Orphans   []board.Card     `json:"orphans,omitempty"`
}
