// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"context"

	"github.com/dukex/notiflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestStep creates a test in-app Step with default values that can be overridden.
func CreateTestStep(overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		ID:   "step-" + uuid.New().String()[:8],
		Type: models.StepTypeInApp,
		Render: func(context.Context, models.StepInput) (map[string]any, error) {
			return map[string]any{"body": "test notification"}, nil
		},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithStepID sets the step ID.
func WithStepID(id string) func(*models.Step) {
	return func(s *models.Step) {
		s.ID = id
	}
}

// WithStepType sets the step type.
func WithStepType(stepType models.StepType) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = stepType
	}
}

// WithRender sets the render function.
func WithRender(render models.RenderFunc) func(*models.Step) {
	return func(s *models.Step) {
		s.Render = render
	}
}

// WithOutput makes the step render a fixed output.
func WithOutput(output map[string]any) func(*models.Step) {
	return func(s *models.Step) {
		s.Render = func(context.Context, models.StepInput) (map[string]any, error) {
			return output, nil
		}
	}
}

// WithSkip sets the skip predicate.
func WithSkip(skip models.SkipFunc) func(*models.Step) {
	return func(s *models.Step) {
		s.Skip = skip
	}
}

// WithControlSchema sets the step control schema.
func WithControlSchema(schema *models.JSONSchema) func(*models.Step) {
	return func(s *models.Step) {
		s.ControlSchema = schema
	}
}

// WithOutputSchema sets the step output schema.
func WithOutputSchema(schema *models.JSONSchema) func(*models.Step) {
	return func(s *models.Step) {
		s.OutputSchema = schema
	}
}

// WithDigest turns the step into a digest step on the given schedule.
func WithDigest(cron string) func(*models.Step) {
	return func(s *models.Step) {
		s.Type = models.StepTypeDigest
		s.Render = nil
		s.Digest = &models.DigestOptions{Schedule: models.Schedule{CronExpression: cron}}
	}
}

// CreateTestWorkflow creates an active test workflow holding the given steps.
func CreateTestWorkflow(steps ...*models.Step) *models.Workflow {
	return &models.Workflow{
		ID:          "test-workflow-" + uuid.New().String()[:8],
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Status:      models.WorkflowStatusActive,
		Steps:       steps,
	}
}
