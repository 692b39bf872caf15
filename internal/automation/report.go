package automation

import (
	"github.com/elmerpm/elmer/internal/job"
)

// TaskKind classifies one side effect of entering a stage.
type TaskKind string

// Task kinds.
const (
	TaskJob      TaskKind = "job"
	TaskAgent    TaskKind = "agent"
	TaskDocument TaskKind = "document"
)

// TaskResult is the outcome of a single best-effort side effect.
type TaskResult struct {
	Kind              TaskKind `json:"kind"`
	JobType           job.Type `json:"job_type,omitempty"`
	AgentDefinitionID string   `json:"agent_definition_id,omitempty"`
	ID                string   `json:"id,omitempty"`
	Err               error    `json:"-"`
	Error             string   `json:"error,omitempty"`
}

// OK reports whether the task succeeded.
func (t TaskResult) OK() bool { return t.Err == nil }

// Report collects every side effect of entering one stage, in issue order.
type Report struct {
	ProjectID string       `json:"project_id"`
	Stage     string       `json:"stage"`
	Tasks     []TaskResult `json:"tasks"`
}

func (r *Report) add(t TaskResult) {
	if t.Err != nil {
		t.Error = t.Err.Error()
	}
	r.Tasks = append(r.Tasks, t)
}

// Dispatched returns the jobs that were enqueued successfully.
func (r Report) Dispatched() []TaskResult {
	var out []TaskResult
	for _, t := range r.Tasks {
		if t.Kind != TaskDocument && t.OK() {
			out = append(out, t)
		}
	}
	return out
}

// Failures returns every task that failed, documents included.
func (r Report) Failures() []TaskResult {
	var out []TaskResult
	for _, t := range r.Tasks {
		if !t.OK() {
			out = append(out, t)
		}
	}
	return out
}

// FirstJobType returns the type of the first successfully dispatched job.
func (r Report) FirstJobType() (job.Type, bool) {
	d := r.Dispatched()
	if len(d) == 0 {
		return "", false
	}
	return d[0].JobType, true
}
