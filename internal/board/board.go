// Package board holds the in-memory kanban state: the workspace's columns and
// the project cards placed in them, including transient job fields.
package board

import (
	"slices"
	"sync"

	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/models"
)

// Card is a project as shown on the board.
type Card struct {
	models.Project
	ActiveJobType     job.Type   `json:"active_job_type,omitempty"`
	ActiveJobProgress float64    `json:"active_job_progress"`
	ActiveJobStatus   job.Status `json:"active_job_status,omitempty"`
	IsLocked          bool       `json:"is_locked"`
}

// State is the mutation API the transition controller and automation runner
// work against.
type State interface {
	Columns() []models.Stage
	Card(projectID string) (Card, bool)
	Cards() []Card
	StageMap() map[string]string
	MoveProject(projectID, stage string) bool
	UpdateProject(projectID string, fn func(*Card)) bool
	SetDraggedProject(projectID string)
	DraggedProject() (Card, bool)
}

// Board is a thread-safe State.
type Board struct {
	mu      sync.RWMutex
	columns []models.Stage
	cards   map[string]*Card
	order   []string
	dragged string
}

var _ State = (*Board)(nil)

// New creates a board from a stage registry and its projects.
func New(columns []models.Stage, projects []models.Project) *Board {
	b := &Board{}
	b.Load(columns, projects)
	return b
}

// Load replaces the board contents.
func (b *Board) Load(columns []models.Stage, projects []models.Project) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.columns = slices.Clone(columns)
	b.cards = make(map[string]*Card, len(projects))
	b.order = b.order[:0]
	for _, p := range projects {
		b.cards[p.ID] = &Card{Project: p}
		b.order = append(b.order, p.ID)
	}
	b.dragged = ""
}

// Columns returns a copy of the stage registry.
func (b *Board) Columns() []models.Stage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.columns)
}

// Card returns a copy of a card.
func (b *Board) Card(projectID string) (Card, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.cards[projectID]
	if !ok {
		return Card{}, false
	}
	return *c, true
}

// Cards returns copies of all cards in load order.
func (b *Board) Cards() []Card {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Card, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.cards[id])
	}
	return out
}

// StageMap maps project id to its current stage.
func (b *Board) StageMap() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := make(map[string]string, len(b.cards))
	for id, c := range b.cards {
		m[id] = c.Stage
	}
	return m
}

// MoveProject sets a card's local stage. It reports false for unknown cards.
func (b *Board) MoveProject(projectID, stage string) bool {
	return b.UpdateProject(projectID, func(c *Card) { c.Stage = stage })
}

// UpdateProject applies fn to a card under the board lock.
func (b *Board) UpdateProject(projectID string, fn func(*Card)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cards[projectID]
	if !ok {
		return false
	}
	fn(c)
	return true
}

// SetDraggedProject records the card being dragged; "" clears it.
func (b *Board) SetDraggedProject(projectID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dragged = projectID
}

// DraggedProject returns the card being dragged, if any.
func (b *Board) DraggedProject() (Card, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.dragged == "" {
		return Card{}, false
	}
	c, ok := b.cards[b.dragged]
	if !ok {
		return Card{}, false
	}
	return *c, true
}

// Column groups the cards of one stage.
type Column struct {
	Stage models.Stage `json:"stage"`
	Cards []Card       `json:"cards"`
}

// Snapshot returns the enabled columns in order with their cards. Cards on
// stages that are disabled or unknown are returned separately.
func Snapshot(s State, enabled []models.Stage) (columns []Column, orphans []Card) {
	idx := make(map[string]int, len(enabled))
	columns = make([]Column, len(enabled))
	for i, st := range enabled {
		idx[st.ID] = i
		columns[i] = Column{Stage: st, Cards: []Card{}}
	}
	for _, c := range s.Cards() {
		i, ok := idx[c.Stage]
		if !ok {
			orphans = append(orphans, c)
			continue
		}
		columns[i].Cards = append(columns[i].Cards, c)
	}
	return columns, orphans
}
