// Package kanban implements the transition controller: it turns drag
// gestures and programmatic stage requests into durable stage changes,
// collecting required input first and handing committed projects to the
// automation runner.
package kanban

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/elmerpm/elmer/internal/automation"
	"github.com/elmerpm/elmer/internal/board"
	"github.com/elmerpm/elmer/internal/logging"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/stage"
	"go.uber.org/zap"
)

// Sentinel errors.
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrNoActiveDrag    = errors.New("no active drag")
	ErrNoPendingMove   = errors.New("no pending move")
	ErrMovePending     = errors.New("a move is awaiting input")
)

// DragSource is the gesture contract the controller is driven through.
type DragSource interface {
	OnStart(projectID string) error
	OnOver(overID string)
	OnEnd(ctx context.Context, overID string) (Result, error)
}

// Outcome classifies how a transition request ended.
type Outcome string

// Transition outcomes.
const (
	OutcomeReverted      Outcome = "reverted"
	OutcomeUnchanged     Outcome = "unchanged"
	OutcomeAwaitingInput Outcome = "awaiting_input"
	OutcomeCommitted     Outcome = "committed"
	OutcomeFailed        Outcome = "failed"
)

// PendingMove is a transition held until its input dialog resolves.
type PendingMove struct {
	ProjectID     string       `json:"project_id"`
	Project       board.Card   `json:"project"`
	OriginalStage string       `json:"original_stage"`
	TargetStage   string       `json:"target_stage"`
	TargetColumn  models.Stage `json:"target_column"`
}

// Result describes one transition request.
type Result struct {
	ProjectID string                `json:"project_id"`
	From      string                `json:"from"`
	To        string                `json:"to,omitempty"`
	Outcome   Outcome               `json:"outcome"`
	Pending   *PendingMove          `json:"pending,omitempty"`
	Report    *automation.Report    `json:"report,omitempty"`
	Run       *automation.RunResult `json:"run,omitempty"`
}

type drag struct {
	projectID     string
	originalStage string
}

// Controller is the kanban transition controller. It is safe for concurrent
// use; stage mutations of one project are serialized through Guard.
type Controller struct {
	State      board.State
	Persister  automation.StagePersister
	Dispatcher *automation.Dispatcher
	Runner     *automation.Runner // optional; nil disables automation hand-off
	Guard      *automation.Guard
	Collector  InputCollector // optional; nil parks input-required moves
	Metrics    *metrics.Metrics
	Log        *zap.Logger

	mu      sync.Mutex
	drag    *drag
	pending *PendingMove
}

var _ DragSource = (*Controller)(nil)

// OnStart begins dragging a project and remembers its stage.
func (c *Controller) OnStart(projectID string) error {
	card, ok := c.State.Card(projectID)
	if !ok {
		return fmt.Errorf("kanban: start drag %s: %w", projectID, ErrProjectNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return ErrMovePending
	}
	c.drag = &drag{projectID: projectID, originalStage: card.Stage}
	c.State.SetDraggedProject(projectID)
	return nil
}

// OnOver moves the dragged card to the hovered column for visual feedback.
// It never persists anything.
func (c *Controller) OnOver(overID string) {
	c.mu.Lock()
	d := c.drag
	c.mu.Unlock()
	if d == nil {
		return
	}
	target, ok := c.resolveTarget(overID)
	if !ok {
		return
	}
	if card, ok := c.State.Card(d.projectID); ok && card.Stage != target {
		c.State.MoveProject(d.projectID, target)
	}
}

// OnEnd finishes the drag over overID. An unresolvable target or a drop on
// the original stage restores the card without any gateway call.
func (c *Controller) OnEnd(ctx context.Context, overID string) (Result, error) {
	c.mu.Lock()
	d := c.drag
	c.drag = nil
	c.mu.Unlock()
	c.State.SetDraggedProject("")
	if d == nil {
		return Result{}, ErrNoActiveDrag
	}

	log := c.log().With(zap.String("project_id", d.projectID))
	res := Result{ProjectID: d.projectID, From: d.originalStage}

	target, ok := c.resolveTarget(overID)
	if !ok {
		log.Debug("drop ignored: no valid target", zap.String("over", overID))
		c.State.MoveProject(d.projectID, d.originalStage)
		res.Outcome = OutcomeReverted
		return res, nil
	}
	res.To = target
	if target == d.originalStage {
		c.State.MoveProject(d.projectID, d.originalStage)
		res.Outcome = OutcomeUnchanged
		return res, nil
	}
	return c.transition(ctx, d.projectID, d.originalStage, target, nil)
}

// Pending returns the move awaiting input, if any.
func (c *Controller) Pending() (PendingMove, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingMove{}, false
	}
	return *c.pending, true
}

// Resolve completes the pending move with the user's answer. Cancelling
// restores the original stage without any gateway call.
func (c *Controller) Resolve(ctx context.Context, r InputResult) (Result, error) {
	c.mu.Lock()
	pm := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pm == nil {
		return Result{}, ErrNoPendingMove
	}
	return c.resolve(ctx, *pm, r)
}

// SetStage requests a transition without a drag gesture. A nil in means no
// input was supplied.
func (c *Controller) SetStage(ctx context.Context, projectID, target string, in *automation.Input) (Result, error) {
	card, ok := c.State.Card(projectID)
	if !ok {
		return Result{}, fmt.Errorf("kanban: set stage %s: %w", projectID, ErrProjectNotFound)
	}
	res := Result{ProjectID: projectID, From: card.Stage, To: target}
	if _, ok := stage.Lookup(stage.EnabledSorted(c.State.Columns()), target); !ok {
		return res, fmt.Errorf("kanban: set stage %s -> %s: %w", projectID, target, stage.ErrStageNotFound)
	}
	if card.Stage == target {
		res.Outcome = OutcomeUnchanged
		return res, nil
	}
	c.mu.Lock()
	busy := c.pending != nil && c.pending.ProjectID == projectID
	c.mu.Unlock()
	if busy {
		return res, fmt.Errorf("kanban: set stage %s: %w", projectID, ErrMovePending)
	}
	return c.transition(ctx, projectID, card.Stage, target, in)
}

// transition gates input-required stages then commits.
func (c *Controller) transition(ctx context.Context, projectID, original, target string, in *automation.Input) (Result, error) {
	st, _ := stage.Lookup(c.State.Columns(), target)
	if !stage.RequiresInput(target) || in != nil {
		return c.commit(ctx, projectID, original, st, in)
	}

	card, _ := c.State.Card(projectID)
	pm := PendingMove{
		ProjectID:     projectID,
		Project:       card,
		OriginalStage: original,
		TargetStage:   target,
		TargetColumn:  st,
	}

	if c.Collector == nil {
		c.mu.Lock()
		if c.pending != nil {
			c.mu.Unlock()
			c.State.MoveProject(projectID, original)
			return Result{ProjectID: projectID, From: original, To: target, Outcome: OutcomeReverted},
				fmt.Errorf("kanban: move %s: %w", projectID, ErrMovePending)
		}
		c.pending = &pm
		c.State.MoveProject(projectID, target)
		c.mu.Unlock()
		c.log().Debug("move awaiting input", zap.String("project_id", projectID), zap.String("stage", target))
		return Result{ProjectID: projectID, From: original, To: target, Outcome: OutcomeAwaitingInput, Pending: &pm}, nil
	}

	c.State.MoveProject(projectID, target)
	r, err := c.Collector.Collect(ctx, card.Name, st)
	if err != nil {
		c.State.MoveProject(projectID, original)
		return Result{ProjectID: projectID, From: original, To: target, Outcome: OutcomeReverted},
			fmt.Errorf("kanban: collect input for %s: %w", projectID, err)
	}
	return c.resolve(ctx, pm, r)
}

func (c *Controller) resolve(ctx context.Context, pm PendingMove, r InputResult) (Result, error) {
	if r.Action == InputCancelled {
		c.State.MoveProject(pm.ProjectID, pm.OriginalStage)
		return Result{ProjectID: pm.ProjectID, From: pm.OriginalStage, To: pm.TargetStage, Outcome: OutcomeReverted}, nil
	}
	in, err := r.input()
	if err != nil {
		c.State.MoveProject(pm.ProjectID, pm.OriginalStage)
		return Result{ProjectID: pm.ProjectID, From: pm.OriginalStage, To: pm.TargetStage, Outcome: OutcomeReverted}, err
	}
	return c.commit(ctx, pm.ProjectID, pm.OriginalStage, pm.TargetColumn, in)
}

// commit persists the stage, dispatches entry work, then hands off to the
// runner. Nothing is dispatched unless the write succeeds.
func (c *Controller) commit(ctx context.Context, projectID, original string, st models.Stage, in *automation.Input) (Result, error) {
	log := c.log().With(zap.String("project_id", projectID), zap.String("stage", st.ID))
	res := Result{ProjectID: projectID, From: original, To: st.ID}

	release, ok := c.acquire(projectID)
	if !ok {
		c.State.MoveProject(projectID, original)
		c.Metrics.Transition(string(models.TriggeredByUser), "busy")
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("kanban: move %s: %w", projectID, automation.ErrProjectBusy)
	}
	defer release()

	cur, err := automation.PersistedStage(ctx, c.Persister, projectID)
	if err != nil {
		c.State.MoveProject(projectID, original)
		c.Metrics.Transition(string(models.TriggeredByUser), "failed")
		log.Error("stage read failed; reverted", zap.String("original", original), zap.Error(err))
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("kanban: read stage %s: %w", projectID, err)
	}
	if cur == st.ID {
		// Another transition already landed the project here.
		c.State.MoveProject(projectID, cur)
		c.Metrics.Transition(string(models.TriggeredByUser), "unchanged")
		log.Debug("stage already persisted", zap.String("original", original))
		res.From = cur
		res.Outcome = OutcomeUnchanged
		return res, nil
	}
	if cur != "" {
		res.From = cur
	}

	if err := c.Persister.SetProjectStage(ctx, projectID, st.ID, models.TriggeredByUser); err != nil {
		c.State.MoveProject(projectID, original)
		c.Metrics.Transition(string(models.TriggeredByUser), "failed")
		log.Error("stage persist failed; reverted", zap.String("original", original), zap.Error(err))
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("kanban: persist %s -> %s: %w", projectID, st.ID, err)
	}
	c.State.MoveProject(projectID, st.ID)
	c.Metrics.Transition(string(models.TriggeredByUser), "committed")
	res.Outcome = OutcomeCommitted

	card, _ := c.State.Card(projectID)
	if c.Dispatcher != nil {
		rep := c.Dispatcher.EnterStage(ctx, card, st, in)
		res.Report = &rep
	}
	if c.Runner != nil {
		run := c.Runner.Advance(ctx, projectID, st.ID, in)
		res.Run = &run
	}
	log.Info("stage committed", zap.String("from", original))
	return res, nil
}

func (c *Controller) acquire(projectID string) (func(), bool) {
	if c.Guard == nil {
		return func() {}, true
	}
	return c.Guard.TryAcquire(projectID)
}

func (c *Controller) resolveTarget(overID string) (string, bool) {
	return stage.FindContaining(overID, stage.EnabledSorted(c.State.Columns()), c.State.StageMap())
}

func (c *Controller) log() *zap.Logger {
	return logging.OrNop(c.Log)
}
