package registry

import (
	"errors"
	"fmt"

	"github.com/dukex/notiflow/pkg/models"
	"github.com/dukex/notiflow/pkg/schema"
)

var (
	// Registration errors, fatal at startup.
	ErrInvalidWorkflowID = errors.New("workflow ID cannot be empty")
	ErrDuplicateWorkflow = errors.New("workflow already registered")
	ErrEmptyWorkflow     = errors.New("workflow must have at least one step")
	ErrDuplicateStepID   = errors.New("duplicate step ID")
	ErrInvalidStep       = errors.New("invalid step")
	ErrInvalidSchedule   = models.ErrInvalidSchedule
	ErrInvalidSchema     = schema.ErrInvalidSchema

	// Lookup errors.
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrStepNotFound     = errors.New("step not found")
)

// RegistrationError wraps a failure to register a workflow.
type RegistrationError struct {
	WorkflowID string
	StepID     string
	Err        error
}

func (e *RegistrationError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("register workflow %s: step %s: %v", e.WorkflowID, e.StepID, e.Err)
	}

	return fmt.Sprintf("register workflow %s: %v", e.WorkflowID, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

func (e *RegistrationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// PayloadValidationError is returned by Trigger when the payload is rejected.
// No step has run and no digest bucket was touched.
type PayloadValidationError struct {
	WorkflowID string
	Err        error
}

func (e *PayloadValidationError) Error() string {
	return fmt.Sprintf("invalid payload for workflow %s: %v", e.WorkflowID, e.Err)
}

func (e *PayloadValidationError) Unwrap() error {
	return e.Err
}

// IsRegistrationError checks if an error comes from Register.
func IsRegistrationError(err error) bool {
	var target *RegistrationError

	return errors.As(err, &target)
}

// IsPayloadValidationError checks if a trigger was rejected for its payload.
func IsPayloadValidationError(err error) bool {
	var target *PayloadValidationError

	return errors.As(err, &target)
}

// IsNotFoundError checks if an error is a lookup failure that should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrStepNotFound)
}
