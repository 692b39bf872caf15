package automation

import (
	"errors"
	"sync"
)

// ErrProjectBusy is returned when another transition or run holds a project.
var ErrProjectBusy = errors.New("project busy")

// Guard serializes stage mutations per project. Each acquisition gets a
// fresh token so a stale release cannot free a later holder.
type Guard struct {
	mu   sync.Mutex
	held map[string]uint64
	next uint64
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{held: make(map[string]uint64)}
}

// TryAcquire takes the project if it is free. The returned release func is
// idempotent.
func (g *Guard) TryAcquire(projectID string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[projectID]; busy {
		return nil, false
	}
	g.next++
	token := g.next
	g.held[projectID] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.held[projectID] == token {
				delete(g.held, projectID)
			}
		})
	}, true
}

// Busy reports whether the project is currently held.
func (g *Guard) Busy(projectID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.held[projectID]
	return busy
}
