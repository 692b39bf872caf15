// Package stage provides the stage registry: pure accessors over a
// workspace's pipeline columns plus their gorm-backed storage.
package stage

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/elmerpm/elmer/internal/models"
)

// Sentinel errors for stage lookups.
var (
	ErrStageNotFound = errors.New("stage not found")
	ErrStageDisabled = errors.New("stage disabled")
)

// Discovery is the stage id that collects a research transcript on entry.
const Discovery = "discovery"

// inputRequired is the fixed set of stages that must collect input before a
// project may enter them.
var inputRequired = map[string]bool{
	Discovery: true,
}

// RequiresInput reports whether entering the stage must first collect input.
func RequiresInput(id string) bool {
	return inputRequired[id]
}

// EnabledSorted returns the enabled stages ordered by Order. Ties keep their
// input order. The input slice is not modified.
func EnabledSorted(all []models.Stage) []models.Stage {
	out := make([]models.Stage, 0, len(all))
	for _, s := range all {
		if s.Enabled {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Stage) int {
		return a.Order - b.Order
	})
	return out
}

// IndexOf returns the position of id in stages, or -1.
func IndexOf(stages []models.Stage, id string) int {
	return slices.IndexFunc(stages, func(s models.Stage) bool { return s.ID == id })
}

// Lookup returns the stage with the given id.
func Lookup(stages []models.Stage, id string) (models.Stage, bool) {
	i := IndexOf(stages, id)
	if i < 0 {
		return models.Stage{}, false
	}
	return stages[i], true
}

// FindContaining resolves a drop-target id. The id is either a stage id, or a
// project id whose current stage is looked up in projectStages. The result is
// always one of stages; ok is false when neither resolves.
func FindContaining(id string, stages []models.Stage, projectStages map[string]string) (string, bool) {
	if id == "" {
		return "", false
	}
	if IndexOf(stages, id) >= 0 {
		return id, true
	}
	st, ok := projectStages[id]
	if !ok || IndexOf(stages, st) < 0 {
		return "", false
	}
	return st, true
}

// Validate checks registry invariants: non-empty unique ids, a strict order
// among enabled stages, and known job types in trigger configuration.
func Validate(stages []models.Stage) error {
	var errs []string
	ids := make(map[string]bool, len(stages))
	orders := make(map[int]string, len(stages))
	for i, s := range stages {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("stages[%d].id is required", i))
			continue
		}
		if ids[s.ID] {
			errs = append(errs, fmt.Sprintf("duplicate stage id %q", s.ID))
		}
		ids[s.ID] = true
		if s.Enabled {
			if other, dup := orders[s.Order]; dup {
				errs = append(errs, fmt.Sprintf("stages %q and %q share order %d", other, s.ID, s.Order))
			}
			orders[s.Order] = s.ID
		}
		for _, jt := range s.AutoTriggerJobs {
			if !jt.Valid() {
				errs = append(errs, fmt.Sprintf("stage %q: unknown job type %q", s.ID, jt))
			}
		}
		for j, at := range s.AgentTriggers {
			if at.AgentDefinitionID == "" {
				errs = append(errs, fmt.Sprintf("stage %q: agent_triggers[%d].agent_definition_id is required", s.ID, j))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("stage: invalid registry: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SortedTriggers returns the agent triggers ordered by ascending priority.
// Equal priorities keep configuration order.
func SortedTriggers(s models.Stage) []models.AgentTrigger {
	out := slices.Clone(s.AgentTriggers)
	slices.SortStableFunc(out, func(a, b models.AgentTrigger) int {
		return a.Priority - b.Priority
	})
	return out
}
