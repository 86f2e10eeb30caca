package engine

import (
	"errors"
	"fmt"
)

var (
	ErrStepTimeout   = errors.New("step timed out")
	ErrStepPanicked  = errors.New("step panicked")
	ErrMissingRender = errors.New("step has no render function")
)

// Phase names the part of a step that failed.
type Phase string

const (
	PhaseControls Phase = "controls"
	PhaseSkip     Phase = "skip"
	PhaseDigest   Phase = "digest"
	PhaseRender   Phase = "render"
	PhaseOutput   Phase = "output"
	PhaseDelivery Phase = "delivery"
)

// StepExecutionError is the cause recorded when a step fails.
type StepExecutionError struct {
	WorkflowID  string
	ExecutionID string
	StepID      string
	Phase       Phase
	Err         error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s failed during %s: %v", e.StepID, e.Phase, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}

func (e *StepExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsStepExecutionError checks if an error halted an execution.
func IsStepExecutionError(err error) bool {
	var target *StepExecutionError

	return errors.As(err, &target)
}

// AsStepExecutionError extracts the step failure from err.
func AsStepExecutionError(err error) (*StepExecutionError, bool) {
	var target *StepExecutionError
	if errors.As(err, &target) {
		return target, true
	}

	return nil, false
}
