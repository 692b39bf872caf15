package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/models"
)

// ProgressFunc reports a running job's progress in [0, 1].
type ProgressFunc func(progress float64)

// Handler executes one claimed job and returns its output.
type Handler interface {
	Handle(ctx context.Context, j *models.Job, progress ProgressFunc) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j *models.Job, progress ProgressFunc) (map[string]any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, j *models.Job, progress ProgressFunc) (map[string]any, error) {
	return f(ctx, j, progress)
}

// Registry maps job types to handlers. A fallback handles any type without
// its own entry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[job.Type]Handler
	fallback Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[job.Type]Handler)}
}

// Register binds h to t. Unknown job types are rejected.
func (r *Registry) Register(t job.Type, h Handler) error {
	if !t.Valid() {
		return fmt.Errorf("worker: register: %w: %s", job.ErrUnknownJobType, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
	return nil
}

// SetFallback sets the handler used for types without a registration.
func (r *Registry) SetFallback(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Lookup returns the handler for t.
func (r *Registry) Lookup(t job.Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[t]; ok {
		return h, true
	}
	return r.fallback, r.fallback != nil
}
