// Package metrics exposes Prometheus counters for the pipeline engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry       *prometheus.Registry
	transitions    *prometheus.CounterVec
	dispatched     *prometheus.CounterVec
	automationRuns *prometheus.CounterVec
	processed      *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elmer_stage_transitions_total",
			Help: "Stage transitions attempted, by origin and outcome.",
		}, []string{"triggered_by", "outcome"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elmer_jobs_dispatched_total",
			Help: "Jobs dispatched on stage entry, by job type and result.",
		}, []string{"job_type", "result"}),
		automationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elmer_automation_runs_total",
			Help: "Automation pipeline runs, by stop reason.",
		}, []string{"stop_reason"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elmer_jobs_processed_total",
			Help: "Jobs processed by workers, by job type and final status.",
		}, []string{"job_type", "status"}),
	}
	m.Registry.MustRegister(m.transitions, m.dispatched, m.automationRuns, m.processed)
	return m
}

// Transition counts a stage transition attempt.
func (m *Metrics) Transition(triggeredBy, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(triggeredBy, outcome).Inc()
}

// Dispatch counts a job dispatch.
func (m *Metrics) Dispatch(jobType string, ok bool) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(jobType, result(ok)).Inc()
}

// AutomationRun counts a finished automation run.
func (m *Metrics) AutomationRun(stopReason string) {
	if m == nil {
		return
	}
	m.automationRuns.WithLabelValues(stopReason).Inc()
}

// Processed counts a job finished by a worker.
func (m *Metrics) Processed(jobType, status string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(jobType, status).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
