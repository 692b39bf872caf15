// Package automationtest provides in-memory gateway fakes for exercising the
// automation runner and the transition controller.
package automationtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/elmerpm/elmer/internal/automation"
	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/models"
)

// PersistCall is one recorded SetProjectStage call.
type PersistCall struct {
	ProjectID   string
	Stage       string
	TriggeredBy models.TriggeredBy
}

// Persister records stage writes and keeps the last stored stage per project.
type Persister struct {
	mu     sync.Mutex
	Calls  []PersistCall
	Stored map[string]string
	// FailOn makes writes to the named stage fail.
	FailOn map[string]error
}

var (
	_ automation.StagePersister = (*Persister)(nil)
	_ automation.StageReader    = (*Persister)(nil)
)

// NewPersister creates an empty persister.
func NewPersister() *Persister {
	return &Persister{Stored: map[string]string{}, FailOn: map[string]error{}}
}

// SetProjectStage records the call and stores the stage unless it is
// configured to fail.
func (p *Persister) SetProjectStage(_ context.Context, projectID, stage string, by models.TriggeredBy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, PersistCall{ProjectID: projectID, Stage: stage, TriggeredBy: by})
	if err := p.FailOn[stage]; err != nil {
		return err
	}
	if p.Stored == nil {
		p.Stored = map[string]string{}
	}
	p.Stored[projectID] = stage
	return nil
}

// ProjectStage returns the last stored stage, or "" if none was written.
func (p *Persister) ProjectStage(_ context.Context, projectID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Stored[projectID], nil
}

// Stages returns the stages written, in call order.
func (p *Persister) Stages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Stage
	}
	return out
}

// Count returns the number of calls made.
func (p *Persister) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// EnqueueCall is one recorded EnqueueJob call.
type EnqueueCall struct {
	WorkspaceID string
	ProjectID   string
	Type        job.Type
	Input       map[string]any
}

// Jobs records job dispatches.
type Jobs struct {
	mu    sync.Mutex
	Calls []EnqueueCall
	// FailOn makes dispatches of the given type fail.
	FailOn map[job.Type]error
	// FailAgent makes dispatches for the given agent definition fail.
	FailAgent map[string]error
}

var _ automation.JobDispatcher = (*Jobs)(nil)

// NewJobs creates an empty job recorder.
func NewJobs() *Jobs {
	return &Jobs{FailOn: map[job.Type]error{}, FailAgent: map[string]error{}}
}

// EnqueueJob records the call and returns a sequential id.
func (j *Jobs) EnqueueJob(_ context.Context, workspaceID, projectID string, t job.Type, input map[string]any) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Calls = append(j.Calls, EnqueueCall{WorkspaceID: workspaceID, ProjectID: projectID, Type: t, Input: input})
	if err := j.FailOn[t]; err != nil {
		return "", err
	}
	if id, ok := input["agent_definition_id"].(string); ok {
		if err := j.FailAgent[id]; err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("job-%d", len(j.Calls)), nil
}

// Types returns the dispatched job types, in call order.
func (j *Jobs) Types() []job.Type {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]job.Type, len(j.Calls))
	for i, c := range j.Calls {
		out[i] = c.Type
	}
	return out
}

// Agents returns the agent definition ids dispatched, in call order.
func (j *Jobs) Agents() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, c := range j.Calls {
		if id, ok := c.Input["agent_definition_id"].(string); ok {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the number of calls made.
func (j *Jobs) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.Calls)
}

// DocumentCall is one recorded CreateDocument call.
type DocumentCall struct {
	ProjectID string
	Type      string
	Title     string
	Content   string
	Metadata  map[string]any
}

// Documents records document creation.
type Documents struct {
	mu    sync.Mutex
	Calls []DocumentCall
	Err   error
}

var _ automation.DocumentCreator = (*Documents)(nil)

// CreateDocument records the call.
func (d *Documents) CreateDocument(_ context.Context, projectID, docType, title, content string, metadata map[string]any) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, DocumentCall{ProjectID: projectID, Type: docType, Title: title, Content: content, Metadata: metadata})
	if d.Err != nil {
		return "", d.Err
	}
	return fmt.Sprintf("doc-%d", len(d.Calls)), nil
}

// Count returns the number of calls made.
func (d *Documents) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// Trigger counts processing wake-ups.
type Trigger struct {
	mu    sync.Mutex
	count int
}

// TriggerProcessing increments the counter.
func (t *Trigger) TriggerProcessing() {
	t.mu.Lock()
	t.count++
	t.mu.Unlock()
}

// Count returns the number of wake-ups.
func (t *Trigger) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Notifier records gate notifications.
type Notifier struct {
	mu    sync.Mutex
	Gates []automation.Gate
	Err   error
}

// GateReached records g.
func (n *Notifier) GateReached(_ context.Context, g automation.Gate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Gates = append(n.Gates, g)
	return n.Err
}

// Stages builds an enabled registry from ids, ordered by position.
func Stages(workspaceID string, ids ...string) []models.Stage {
	out := make([]models.Stage, len(ids))
	for i, id := range ids {
		out[i] = models.Stage{WorkspaceID: workspaceID, ID: id, DisplayName: id, Order: i, Enabled: true}
	}
	return out
}
