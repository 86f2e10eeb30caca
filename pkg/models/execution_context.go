package models

import "time"

// ExecutionStatus represents the state of one triggered execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// StepStatus represents the state of one step within an execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusExecuting StepStatus = "executing"
	StepStatusCompleted StepStatus = "completed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusFailed    StepStatus = "failed"
)

// IsTerminal reports whether the step has finished.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped || s == StepStatusFailed
}

// Payload is the data supplied at trigger time.
type Payload struct {
	Recipient string         `json:"recipient" validate:"required"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StepResult is the outcome of one step in one execution.
type StepResult struct {
	StepID     string         `json:"step_id"`
	Type       StepType       `json:"type"`
	Status     StepStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Delivery   map[string]any `json:"delivery,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// ExecutionContext is the isolated runtime state of one trigger call.
type ExecutionContext struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Payload     Payload                `json:"payload"`
	Controls    map[string]any         `json:"controls,omitempty"`
	StepOrder   []string               `json:"step_order"`
	StepResults map[string]*StepResult `json:"step_results"`
	CurrentStep string                 `json:"current_step,omitempty"`
	Status      ExecutionStatus        `json:"status"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`

	err error
}

// NewExecutionContext creates a pending context with one pending result per workflow step.
func NewExecutionContext(id string, workflow *Workflow, payload Payload) *ExecutionContext {
	execCtx := &ExecutionContext{
		ID:          id,
		WorkflowID:  workflow.ID,
		Payload:     payload,
		StepOrder:   make([]string, 0, len(workflow.Steps)),
		StepResults: make(map[string]*StepResult, len(workflow.Steps)),
		Status:      ExecutionStatusPending,
	}

	for _, step := range workflow.Steps {
		execCtx.StepOrder = append(execCtx.StepOrder, step.ID)
		execCtx.StepResults[step.ID] = &StepResult{
			StepID: step.ID,
			Type:   step.Type,
			Status: StepStatusPending,
		}
	}

	return execCtx
}

// Result returns the result recorded for a step.
func (e *ExecutionContext) Result(stepID string) (*StepResult, bool) {
	result, ok := e.StepResults[stepID]

	return result, ok
}

// Results returns the step results in declaration order.
func (e *ExecutionContext) Results() []*StepResult {
	results := make([]*StepResult, 0, len(e.StepOrder))
	for _, id := range e.StepOrder {
		results = append(results, e.StepResults[id])
	}

	return results
}

// Executed counts the steps that reached a terminal state.
func (e *ExecutionContext) Executed() int {
	count := 0

	for _, result := range e.StepResults {
		if result.Status.IsTerminal() {
			count++
		}
	}

	return count
}

// IsTerminal reports whether the execution has finished.
func (e *ExecutionContext) IsTerminal() bool {
	return e.Status == ExecutionStatusCompleted || e.Status == ExecutionStatusFailed
}

// Err returns the error that halted the execution, if any.
func (e *ExecutionContext) Err() error {
	return e.err
}

// Fail marks the execution failed with the given cause.
func (e *ExecutionContext) Fail(err error, at time.Time) {
	e.err = err
	e.Error = err.Error()
	e.Status = ExecutionStatusFailed
	e.FinishedAt = &at
}

// Complete marks the execution completed.
func (e *ExecutionContext) Complete(at time.Time) {
	e.Status = ExecutionStatusCompleted
	e.CurrentStep = ""
	e.FinishedAt = &at
}

// PreviousResults copies the terminal results of the steps that ran before stepID.
func (e *ExecutionContext) PreviousResults(stepID string) map[string]StepResult {
	previous := make(map[string]StepResult)

	for _, id := range e.StepOrder {
		if id == stepID {
			break
		}

		if result := e.StepResults[id]; result != nil && result.Status.IsTerminal() {
			previous[id] = *result
		}
	}

	return previous
}
