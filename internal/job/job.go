// Package job defines the closed set of automated job types and job statuses.
package job

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownJobType is returned by Parse for identifiers outside the known set.
var ErrUnknownJobType = errors.New("unknown job type")

// Type identifies a kind of automated work dispatched against a project.
type Type string

// Known job types.
const (
	AnalyzeTranscript       Type = "analyze_transcript"
	GeneratePRD             Type = "generate_prd"
	GenerateDesignBrief     Type = "generate_design_brief"
	GenerateEngineeringSpec Type = "generate_engineering_spec"
	GenerateGTMBrief        Type = "generate_gtm_brief"
	RunJuryEvaluation       Type = "run_jury_evaluation"
	BuildPrototype          Type = "build_prototype"
	IteratePrototype        Type = "iterate_prototype"
	GenerateTickets         Type = "generate_tickets"
	ValidateTickets         Type = "validate_tickets"
	ScoreStageAlignment     Type = "score_stage_alignment"
	DeployChromatic         Type = "deploy_chromatic"
	CreateFeatureBranch     Type = "create_feature_branch"
	ExecuteAgentDefinition  Type = "execute_agent_definition"
)

// Info describes a job type: its label and the stages it makes sense in.
// An empty Stages list means the type applies to every stage.
type Info struct {
	Label  string
	Stages []string
}

var registry = map[Type]Info{
	AnalyzeTranscript:       {Label: "Analyze transcript", Stages: []string{"discovery"}},
	GeneratePRD:             {Label: "Generate PRD", Stages: []string{"prd"}},
	GenerateDesignBrief:     {Label: "Generate design brief", Stages: []string{"prd", "design"}},
	GenerateEngineeringSpec: {Label: "Generate engineering spec", Stages: []string{"prd", "tickets"}},
	GenerateGTMBrief:        {Label: "Generate GTM brief", Stages: []string{"prd", "alpha", "beta", "ga"}},
	RunJuryEvaluation:       {Label: "Run jury evaluation", Stages: []string{"prd", "design", "validate"}},
	BuildPrototype:          {Label: "Build prototype", Stages: []string{"prototype"}},
	IteratePrototype:        {Label: "Iterate prototype", Stages: []string{"prototype", "validate"}},
	GenerateTickets:         {Label: "Generate tickets", Stages: []string{"tickets"}},
	ValidateTickets:         {Label: "Validate tickets", Stages: []string{"tickets"}},
	ScoreStageAlignment:     {Label: "Score stage alignment"},
	DeployChromatic:         {Label: "Deploy to Chromatic", Stages: []string{"prototype"}},
	CreateFeatureBranch:     {Label: "Create feature branch", Stages: []string{"build"}},
	ExecuteAgentDefinition:  {Label: "Execute agent definition"},
}

// Parse converts a string identifier into a known Type.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("job: %w: %q", ErrUnknownJobType, s)
	}
	return t, nil
}

// Valid reports whether t is a known job type.
func (t Type) Valid() bool {
	_, ok := registry[t]
	return ok
}

// Info returns the metadata for t. Unknown types get a zero Info.
func (t Type) Info() Info {
	return registry[t]
}

// AppliesTo reports whether t is meant to run on entry to the given stage.
func (t Type) AppliesTo(stage string) bool {
	info, ok := registry[t]
	if !ok {
		return false
	}
	if len(info.Stages) == 0 {
		return true
	}
	return slices.Contains(info.Stages, stage)
}

func (t Type) String() string { return string(t) }

// Types returns every known job type in lexical order.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Status is the lifecycle state of a queued job.
type Status string

// Job statuses.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further work will happen for a job in s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
