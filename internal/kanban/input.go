package kanban

import (
	"context"
	"fmt"

	"github.com/elmerpm/elmer/internal/automation"
	"github.com/elmerpm/elmer/internal/models"
)

// InputAction is how the user resolved an input dialog.
type InputAction string

// Input actions.
const (
	InputConfirmed InputAction = "confirmed"
	InputSkipped   InputAction = "skipped"
	InputCancelled InputAction = "cancelled"
)

// InputResult is the outcome of an input dialog.
type InputResult struct {
	Action InputAction `json:"action"`
	Text   string      `json:"text,omitempty"`
}

// Confirmed returns a confirming result carrying text.
func Confirmed(text string) InputResult { return InputResult{Action: InputConfirmed, Text: text} }

// Skipped returns a result that commits without data.
func Skipped() InputResult { return InputResult{Action: InputSkipped} }

// Cancelled returns a result that reverts the move.
func Cancelled() InputResult { return InputResult{Action: InputCancelled} }

// input converts a non-cancelled result into transition input.
func (r InputResult) input() (*automation.Input, error) {
	switch r.Action {
	case InputConfirmed:
		return &automation.Input{Transcript: r.Text}, nil
	case InputSkipped:
		return &automation.Input{}, nil
	default:
		return nil, fmt.Errorf("kanban: unknown input action %q", r.Action)
	}
}

// InputCollector asks the user for the data a stage needs before entry.
// Implementations block until the user answers or ctx ends.
type InputCollector interface {
	Collect(ctx context.Context, projectName string, target models.Stage) (InputResult, error)
}

// InputCollectorFunc adapts a function to InputCollector.
type InputCollectorFunc func(ctx context.Context, projectName string, target models.Stage) (InputResult, error)

// Collect calls f.
func (f InputCollectorFunc) Collect(ctx context.Context, projectName string, target models.Stage) (InputResult, error) {
	return f(ctx, projectName, target)
}
