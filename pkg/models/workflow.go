// Package models defines the core domain models for notification workflows
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Declared, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Registered and triggerable
	WorkflowStatusArchived WorkflowStatus = "archived" // Retired, not executable
)

// Workflow is a named, ordered collection of steps plus payload and control schemas.
type Workflow struct {
	ID            string         `json:"workflow_id"              validate:"required"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Preferences   map[string]any `json:"preferences,omitempty"`
	Steps         []*Step        `json:"steps"`
	PayloadSchema *JSONSchema    `json:"payload_schema,omitempty"`
	ControlSchema *JSONSchema    `json:"control_schema,omitempty"`
	Status        WorkflowStatus `json:"status"                   validate:"required,oneof=draft active archived"`
	CreatedAt     time.Time      `json:"created_at"`
	ArchivedAt    *time.Time     `json:"archived_at,omitempty"`
}

// IsActive reports whether the workflow may be triggered.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive
}

// StepByID returns the step declared with the given id.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	for _, step := range w.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// StepIDs returns the step ids in declaration order.
func (w *Workflow) StepIDs() []string {
	ids := make([]string, 0, len(w.Steps))
	for _, step := range w.Steps {
		ids = append(ids, step.ID)
	}

	return ids
}
