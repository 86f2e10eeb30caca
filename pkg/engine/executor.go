// Package engine runs the steps of one workflow execution in declaration order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/notiflow/pkg/delivery"
	"github.com/dukex/notiflow/pkg/digest"
	"github.com/dukex/notiflow/pkg/eventbus"
	"github.com/dukex/notiflow/pkg/events"
	"github.com/dukex/notiflow/pkg/models"
	"github.com/dukex/notiflow/pkg/otelhelper"
	"github.com/dukex/notiflow/pkg/schema"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FailurePolicy decides what happens to the remaining steps once one fails.
type FailurePolicy string

// HaltOnFailure stops the execution at the first failed step; later steps stay pending.
const HaltOnFailure FailurePolicy = "halt_on_failure"

const DefaultStepTimeout = 30 * time.Second

// StepControls maps step IDs to control overrides supplied at trigger time.
type StepControls map[string]map[string]any

type Executor struct {
	batcher     *digest.Batcher
	deliverer   delivery.Deliverer
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	clock       clockwork.Clock
	stepTimeout time.Duration
	policy      FailurePolicy
}

type Option func(*Executor)

func WithBatcher(batcher *digest.Batcher) Option {
	return func(e *Executor) {
		e.batcher = batcher
	}
}

func WithDeliverer(deliverer delivery.Deliverer) Option {
	return func(e *Executor) {
		e.deliverer = deliverer
	}
}

// WithPublisher sets where lifecycle events go. Events are not published without one.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(e *Executor) {
		e.clock = clock
	}
}

// WithStepTimeout bounds rendering and delivery of each step. Zero disables the bound.
func WithStepTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		e.stepTimeout = timeout
	}
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		logger:      slog.Default(),
		clock:       clockwork.NewRealClock(),
		stepTimeout: DefaultStepTimeout,
		policy:      HaltOnFailure,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "step_executor")

	if e.tracer == nil {
		e.tracer = otelhelper.Tracer("github.com/dukex/notiflow/pkg/engine")
	}

	if e.deliverer == nil {
		e.deliverer = delivery.NewLog(e.logger)
	}

	if e.batcher == nil {
		e.batcher = digest.NewBatcher(digest.NewMemoryStore(), digest.WithClock(e.clock), digest.WithLogger(e.logger))
	}

	return e
}

// Batcher returns the digest batcher digest steps record into.
func (e *Executor) Batcher() *digest.Batcher {
	return e.batcher
}

// Policy returns the failure policy in effect.
func (e *Executor) Policy() FailurePolicy {
	return e.policy
}

// Execute runs every step of workflow against execCtx and returns it in a
// terminal state. Steps run strictly in order; the first failed step halts the
// execution and its cause is available through execCtx.Err().
func (e *Executor) Execute(ctx context.Context, workflow *models.Workflow, execCtx *models.ExecutionContext, stepControls StepControls) *models.ExecutionContext {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, execCtx.ID),
		attribute.String(otelhelper.RecipientKey, execCtx.Payload.Recipient),
	)
	defer span.End()

	logger := e.logger.With("workflow_id", workflow.ID, "execution_id", execCtx.ID)

	execCtx.Status = models.ExecutionStatusRunning
	execCtx.StartedAt = e.now()

	logger.InfoContext(ctx, "Starting workflow execution", "steps", len(workflow.Steps))

	e.publish(ctx, execCtx.ID, events.WorkflowExecutionStarted{
		BaseEvent:   e.baseEvent(events.WorkflowExecutionStartedEvent, workflow.ID),
		ExecutionID: execCtx.ID,
		Recipient:   execCtx.Payload.Recipient,
		Payload:     execCtx.Payload.Data,
		StepCount:   len(workflow.Steps),
	})

	for _, step := range workflow.Steps {
		err := e.executeStep(ctx, logger, workflow, execCtx, step, stepControls[step.ID])
		if err == nil {
			continue
		}

		execCtx.Fail(err, e.now())
		otelhelper.SetError(span, err, attribute.String(otelhelper.StepIDKey, step.ID))

		logger.ErrorContext(ctx, "Workflow execution failed", "step_id", step.ID, "error", err)

		e.publish(ctx, execCtx.ID, events.WorkflowExecutionFailed{
			BaseEvent:    e.baseEvent(events.WorkflowExecutionFailedEvent, workflow.ID),
			ExecutionID:  execCtx.ID,
			FailedStepID: step.ID,
			Error:        err.Error(),
			DurationMs:   e.since(execCtx.StartedAt),
		})

		return execCtx
	}

	execCtx.Complete(e.now())

	logger.InfoContext(ctx, "Workflow execution completed", "steps_executed", execCtx.Executed())

	e.publish(ctx, execCtx.ID, events.WorkflowExecutionCompleted{
		BaseEvent:     e.baseEvent(events.WorkflowExecutionCompletedEvent, workflow.ID),
		ExecutionID:   execCtx.ID,
		Status:        string(execCtx.Status),
		DurationMs:    e.since(execCtx.StartedAt),
		StepsExecuted: execCtx.Executed(),
	})

	return execCtx
}

func (e *Executor) executeStep(
	ctx context.Context,
	logger *slog.Logger,
	workflow *models.Workflow,
	execCtx *models.ExecutionContext,
	step *models.Step,
	overrides map[string]any,
) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "step.execute",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, execCtx.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
	)
	defer span.End()

	logger = logger.With("step_id", step.ID, "step_type", step.Type)

	result := execCtx.StepResults[step.ID]
	startedAt := e.now()
	result.Status = models.StepStatusExecuting
	result.StartedAt = &startedAt
	execCtx.CurrentStep = step.ID

	fail := func(phase Phase, cause error) error {
		err := &StepExecutionError{
			WorkflowID:  workflow.ID,
			ExecutionID: execCtx.ID,
			StepID:      step.ID,
			Phase:       phase,
			Err:         cause,
		}

		finishedAt := e.now()
		result.Status = models.StepStatusFailed
		result.Error = err.Error()
		result.FinishedAt = &finishedAt

		otelhelper.SetStepStatus(span, string(result.Status), err)

		logger.WarnContext(ctx, "Step failed", "phase", phase, "error", cause)

		e.publish(ctx, execCtx.ID, events.StepFailed{
			BaseEvent:   e.baseEvent(events.StepFailedEvent, workflow.ID),
			ExecutionID: execCtx.ID,
			StepID:      step.ID,
			StepType:    step.Type,
			Error:       err.Error(),
			DurationMs:  e.since(startedAt),
		})

		return err
	}

	controls, err := schema.Resolve(overrides, step.ControlSchema)
	if err != nil {
		return fail(PhaseControls, err)
	}

	input := models.StepInput{
		Recipient:        execCtx.Payload.Recipient,
		Payload:          schema.Copy(execCtx.Payload.Data),
		Metadata:         schema.Copy(execCtx.Payload.Metadata),
		Controls:         controls,
		WorkflowControls: schema.Copy(execCtx.Controls),
		Steps:            previousResults(execCtx, step.ID),
	}

	skip, err := shouldSkip(step, input)
	if err != nil {
		return fail(PhaseSkip, err)
	}

	if skip {
		finishedAt := e.now()
		result.Status = models.StepStatusSkipped
		result.FinishedAt = &finishedAt

		otelhelper.SetStepStatus(span, string(result.Status), nil)
		logger.InfoContext(ctx, "Step skipped")

		e.publish(ctx, execCtx.ID, events.StepSkipped{
			BaseEvent:   e.baseEvent(events.StepSkippedEvent, workflow.ID),
			ExecutionID: execCtx.ID,
			StepID:      step.ID,
			StepType:    step.Type,
		})

		return nil
	}

	var output map[string]any

	if step.Type == models.StepTypeDigest {
		output, err = e.recordDigest(ctx, workflow, execCtx, step, input)
		if err != nil {
			return fail(PhaseDigest, err)
		}
	} else {
		stepCtx, cancel := e.withStepTimeout(ctx)
		defer cancel()

		output, err = render(stepCtx, step, input)
		if err != nil {
			return fail(PhaseRender, err)
		}

		output, err = schema.Validate(output, step.OutputSchema)
		if err != nil {
			return fail(PhaseOutput, err)
		}

		if step.Type.IsChannel() {
			res, err := e.deliver(stepCtx, delivery.Request{
				WorkflowID:  workflow.ID,
				ExecutionID: execCtx.ID,
				StepID:      step.ID,
				Channel:     step.Type,
				Recipient:   execCtx.Payload.Recipient,
				Content:     output,
				Providers:   step.Providers,
				Metadata:    execCtx.Payload.Metadata,
			})
			if err != nil {
				return fail(PhaseDelivery, err)
			}

			result.Delivery = res.ToMap()
		}
	}

	finishedAt := e.now()
	result.Output = output
	result.Status = models.StepStatusCompleted
	result.FinishedAt = &finishedAt

	otelhelper.SetStepStatus(span, string(result.Status), nil)
	logger.InfoContext(ctx, "Step completed", "duration_ms", e.since(startedAt))

	e.publish(ctx, execCtx.ID, events.StepCompleted{
		BaseEvent:   e.baseEvent(events.StepCompletedEvent, workflow.ID),
		ExecutionID: execCtx.ID,
		StepID:      step.ID,
		StepType:    step.Type,
		Output:      output,
		DurationMs:  e.since(startedAt),
	})

	return nil
}

func (e *Executor) recordDigest(
	ctx context.Context,
	workflow *models.Workflow,
	execCtx *models.ExecutionContext,
	step *models.Step,
	input models.StepInput,
) (map[string]any, error) {
	if step.Digest == nil {
		return nil, fmt.Errorf("digest step %s has no schedule", step.ID)
	}

	digestKey := input.Recipient
	if step.Digest.Key != nil {
		if key := step.Digest.Key(input); key != "" {
			digestKey = key
		}
	}

	key := digest.Key{WorkflowID: workflow.ID, StepID: step.ID, DigestKey: digestKey}

	bucket, err := e.batcher.RecordEvent(ctx, key, digest.Event{
		ExecutionID: execCtx.ID,
		Recipient:   input.Recipient,
		Payload:     input.Payload,
		Metadata:    input.Metadata,
	}, step.Digest.Schedule)
	if err != nil {
		return nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String(otelhelper.DigestKeyKey, digestKey),
		attribute.String(otelhelper.BucketIDKey, bucket.ID),
	)

	e.publish(ctx, execCtx.ID, events.DigestEventRecorded{
		BaseEvent:   e.baseEvent(events.DigestEventRecordedEvent, workflow.ID),
		ExecutionID: execCtx.ID,
		StepID:      step.ID,
		DigestKey:   digestKey,
		BucketID:    bucket.ID,
		EventCount:  len(bucket.Events),
		ClosesAt:    bucket.ClosesAt,
	})

	return bucket.Output(), nil
}

type deliveryOutcome struct {
	result delivery.Result
	err    error
}

// deliver calls the deliverer and stops waiting once ctx is done, so a
// provider ignoring cancellation cannot hold the execution past its timeout.
func (e *Executor) deliver(ctx context.Context, req delivery.Request) (delivery.Result, error) {
	done := make(chan deliveryOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- deliveryOutcome{err: fmt.Errorf("%w: %v", ErrStepPanicked, r)}
			}
		}()

		res, err := e.deliverer.Deliver(ctx, req)
		done <- deliveryOutcome{result: res, err: err}
	}()

	select {
	case outcome := <-done:
		if outcome.err != nil && errors.Is(outcome.err, context.DeadlineExceeded) {
			return delivery.Result{}, fmt.Errorf("%w: %w", ErrStepTimeout, outcome.err)
		}

		return outcome.result, outcome.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return delivery.Result{}, fmt.Errorf("%w after %s", ErrStepTimeout, e.stepTimeout)
		}

		return delivery.Result{}, ctx.Err()
	}
}

func (e *Executor) withStepTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.stepTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, e.stepTimeout)
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Executor) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	base := events.NewBaseEvent(uuid.New().String(), eventType, workflowID)
	base.Timestamp = e.now()

	return base
}

func (e *Executor) now() time.Time {
	return e.clock.Now().UTC()
}

func (e *Executor) since(start time.Time) int64 {
	return e.clock.Since(start).Milliseconds()
}

func render(ctx context.Context, step *models.Step, input models.StepInput) (output map[string]any, err error) {
	if step.Render == nil {
		return nil, ErrMissingRender
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanicked, r)
		}
	}()

	output, err = step.Render(ctx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrStepTimeout, err)
		}

		return nil, err
	}

	if output == nil {
		output = map[string]any{}
	}

	return output, nil
}

func shouldSkip(step *models.Step, input models.StepInput) (skip bool, err error) {
	if step.Skip == nil {
		return false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanicked, r)
		}
	}()

	return step.Skip(input), nil
}

// previousResults hands a step deep copies of earlier results so it cannot alter them.
func previousResults(execCtx *models.ExecutionContext, stepID string) map[string]models.StepResult {
	previous := execCtx.PreviousResults(stepID)

	for id, result := range previous {
		result.Output = schema.Copy(result.Output)
		result.Delivery = schema.Copy(result.Delivery)
		previous[id] = result
	}

	return previous
}
