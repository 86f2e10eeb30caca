// Package registry is the process-wide catalogue of notification workflows.
// It validates and stores workflow definitions, checks trigger payloads and
// hands each accepted trigger to the step executor.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukex/notiflow/pkg/digest"
	"github.com/dukex/notiflow/pkg/engine"
	"github.com/dukex/notiflow/pkg/models"
	"github.com/dukex/notiflow/pkg/schema"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	// SDKVersion is reported by the health check.
	SDKVersion = "0.1.0"

	// FrameworkVersion is the bridge protocol revision the discovery format follows.
	FrameworkVersion = "2024-06-26"
)

type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	order     []string

	executor  *engine.Executor
	validator *validator.Validate
	logger    *slog.Logger
	clock     clockwork.Clock
}

type Option func(*Registry)

func WithExecutor(executor *engine.Executor) Option {
	return func(r *Registry) {
		r.executor = executor
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		workflows: make(map[string]*models.Workflow),
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    slog.Default(),
		clock:     clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.With("module", "workflow_registry")

	if r.executor == nil {
		r.executor = engine.NewExecutor(engine.WithLogger(r.logger), engine.WithClock(r.clock))
	}

	return r
}

// WorkflowOption sets optional workflow attributes at registration.
type WorkflowOption func(*models.Workflow)

func WithName(name string) WorkflowOption {
	return func(w *models.Workflow) {
		w.Name = name
	}
}

func WithDescription(description string) WorkflowOption {
	return func(w *models.Workflow) {
		w.Description = description
	}
}

func WithTags(tags ...string) WorkflowOption {
	return func(w *models.Workflow) {
		w.Tags = append([]string(nil), tags...)
	}
}

func WithPreferences(preferences map[string]any) WorkflowOption {
	return func(w *models.Workflow) {
		w.Preferences = schema.Copy(preferences)
	}
}

// WithControlSchema sets the workflow-level control schema.
func WithControlSchema(controlSchema *models.JSONSchema) WorkflowOption {
	return func(w *models.Workflow) {
		w.ControlSchema = controlSchema
	}
}

// Register adds an active workflow. steps run in the given order; payloadSchema
// may be nil to accept any payload.
func (r *Registry) Register(workflowID string, steps []*models.Step, payloadSchema *models.JSONSchema, opts ...WorkflowOption) (*Handle, error) {
	workflow := &models.Workflow{
		ID:            workflowID,
		Name:          workflowID,
		Steps:         make([]*models.Step, 0, len(steps)),
		PayloadSchema: payloadSchema,
		Status:        models.WorkflowStatusActive,
	}

	for _, opt := range opts {
		opt(workflow)
	}

	if err := r.validateWorkflow(workflow, steps); err != nil {
		return nil, err
	}

	for _, step := range steps {
		stored := *step
		workflow.Steps = append(workflow.Steps, &stored)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workflows[workflowID]; exists {
		return nil, &RegistrationError{WorkflowID: workflowID, Err: ErrDuplicateWorkflow}
	}

	workflow.CreatedAt = r.clock.Now().UTC()
	r.workflows[workflowID] = workflow
	r.order = append(r.order, workflowID)

	r.logger.Info("Registered workflow", "workflow_id", workflowID, "steps", len(workflow.Steps))

	return &Handle{id: workflowID, registry: r}, nil
}

func (r *Registry) validateWorkflow(workflow *models.Workflow, steps []*models.Step) error {
	fail := func(stepID string, err error) error {
		return &RegistrationError{WorkflowID: workflow.ID, StepID: stepID, Err: err}
	}

	if strings.TrimSpace(workflow.ID) == "" {
		return fail("", ErrInvalidWorkflowID)
	}

	if len(steps) == 0 {
		return fail("", ErrEmptyWorkflow)
	}

	if err := compileSchemas("", map[string]*models.JSONSchema{
		"payload":  workflow.PayloadSchema,
		"controls": workflow.ControlSchema,
	}); err != nil {
		return fail("", err)
	}

	seen := make(map[string]bool, len(steps))

	for i, step := range steps {
		if step == nil {
			return fail(fmt.Sprintf("#%d", i), fmt.Errorf("%w: step is nil", ErrInvalidStep))
		}

		if err := r.validator.Struct(step); err != nil {
			return fail(step.ID, fmt.Errorf("%w: %w", ErrInvalidStep, err))
		}

		if seen[step.ID] {
			return fail(step.ID, ErrDuplicateStepID)
		}

		seen[step.ID] = true

		if err := compileSchemas(step.ID, map[string]*models.JSONSchema{
			"controls": step.ControlSchema,
			"outputs":  step.OutputSchema,
			"results":  step.ResultSchema,
		}); err != nil {
			return fail(step.ID, err)
		}

		if step.Type == models.StepTypeDigest {
			if step.Digest == nil {
				return fail(step.ID, fmt.Errorf("%w: digest step requires a schedule", ErrInvalidSchedule))
			}

			if err := step.Digest.Schedule.Validate(); err != nil {
				return fail(step.ID, err)
			}

			continue
		}

		if step.Render == nil {
			return fail(step.ID, fmt.Errorf("%w: %s step requires a render function", ErrInvalidStep, step.Type))
		}
	}

	return nil
}

func compileSchemas(stepID string, schemas map[string]*models.JSONSchema) error {
	for _, name := range []string{"payload", "controls", "outputs", "results"} {
		if err := schema.Compile(schemas[name]); err != nil {
			if stepID == "" {
				return fmt.Errorf("%s %w", name, err)
			}

			return fmt.Errorf("%w: %s %w", ErrInvalidStep, name, err)
		}
	}

	return nil
}

// TriggerRequest is one call to run a workflow.
type TriggerRequest struct {
	Recipient    string
	Data         map[string]any
	Metadata     map[string]any
	Controls     map[string]any
	StepControls engine.StepControls
}

// Trigger validates the request and runs the workflow. Validation failures are
// returned before any step runs. Once accepted, the terminal execution context
// is returned with a nil error even when a step failed; the cause is in
// execCtx.Err().
func (r *Registry) Trigger(ctx context.Context, workflowID string, req TriggerRequest) (*models.ExecutionContext, error) {
	workflow, err := r.activeWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	payload := models.Payload{
		Recipient: strings.TrimSpace(req.Recipient),
		Data:      req.Data,
		Metadata:  schema.Copy(req.Metadata),
	}

	if err := r.validator.Struct(payload); err != nil {
		return nil, &PayloadValidationError{
			WorkflowID: workflowID,
			Err:        &schema.ValidationError{Field: "recipient", Reason: "recipient is required"},
		}
	}

	payload.Data, err = schema.Resolve(req.Data, workflow.PayloadSchema)
	if err != nil {
		return nil, &PayloadValidationError{WorkflowID: workflowID, Err: err}
	}

	controls, err := schema.Resolve(req.Controls, workflow.ControlSchema)
	if err != nil {
		return nil, fmt.Errorf("invalid controls for workflow %s: %w", workflowID, err)
	}

	for stepID := range req.StepControls {
		if _, ok := workflow.StepByID(stepID); !ok {
			r.logger.WarnContext(ctx, "Ignoring controls for unknown step", "workflow_id", workflowID, "step_id", stepID)
		}
	}

	execCtx := models.NewExecutionContext(newExecutionID(), workflow, payload)
	execCtx.Controls = controls

	return r.executor.Execute(ctx, workflow, execCtx, req.StepControls), nil
}

// Get returns a registered workflow in any state.
func (r *Registry) Get(workflowID string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	return workflow, nil
}

// Workflows returns the active workflows in registration order.
func (r *Registry) Workflows() []*models.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.order))

	for _, id := range r.order {
		if workflow := r.workflows[id]; workflow.IsActive() {
			workflows = append(workflows, workflow)
		}
	}

	return workflows
}

// Archive makes a workflow untriggerable. Archiving is one-way.
func (r *Registry) Archive(workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	workflow, ok := r.workflows[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	if workflow.Status == models.WorkflowStatusArchived {
		return nil
	}

	// Stored workflows are shared with running executions, so archive a copy.
	archived := *workflow
	archivedAt := r.clock.Now().UTC()
	archived.Status = models.WorkflowStatusArchived
	archived.ArchivedAt = &archivedAt
	r.workflows[workflowID] = &archived

	r.logger.Info("Archived workflow", "workflow_id", workflowID)

	return nil
}

// ConsumeDigest flushes the oldest closed bucket of a digest step and returns its events.
func (r *Registry) ConsumeDigest(ctx context.Context, workflowID, stepID, digestKey string) ([]digest.Event, error) {
	workflow, err := r.activeWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	step, ok := workflow.StepByID(stepID)
	if !ok || step.Type != models.StepTypeDigest {
		return nil, fmt.Errorf("%w: digest step %s in workflow %s", ErrStepNotFound, stepID, workflowID)
	}

	return r.executor.Batcher().Consume(ctx, digest.Key{WorkflowID: workflowID, StepID: stepID, DigestKey: digestKey})
}

func (r *Registry) activeWorkflow(workflowID string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.workflows[workflowID]
	if !ok || !workflow.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	return workflow, nil
}

func newExecutionID() string {
	return "exec-" + uuid.New().String()[:8]
}

