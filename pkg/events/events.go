// Package events defines the lifecycle events emitted while workflows execute.
package events

import (
	"time"

	"github.com/dukex/notiflow/pkg/models"
)

type EventType string

// Topic every notiflow event is published on.
const Topic = "notiflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"

	// Step events.
	StepCompletedEvent EventType = "step.completed"
	StepSkippedEvent   EventType = "step.skipped"
	StepFailedEvent    EventType = "step.failed"

	// Digest events.
	DigestEventRecordedEvent EventType = "digest.event.recorded"
	DigestFlushedEvent       EventType = "digest.flushed"

	// NotificationRequestedEvent asks an out-of-process provider to deliver a rendered step.
	NotificationRequestedEvent EventType = "notification.requested"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent fills the common event fields.
func NewBaseEvent(id string, eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

type WorkflowExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	Recipient   string         `json:"recipient"`
	Payload     map[string]any `json:"payload,omitempty"`
	StepCount   int            `json:"step_count"`
}

func (w WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	Status        string `json:"status"`
	DurationMs    int64  `json:"duration_ms"`
	StepsExecuted int    `json:"steps_executed"`
}

func (w WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	FailedStepID string `json:"failed_step_id,omitempty"`
	Error        string `json:"error"`
	DurationMs   int64  `json:"duration_ms"`
}

func (w WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}

// StepCompleted is emitted once a step reaches the completed state.
type StepCompleted struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	StepType    models.StepType `json:"step_type"`
	Output      map[string]any  `json:"output,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

func (s StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepSkipped struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	StepType    models.StepType `json:"step_type"`
}

func (s StepSkipped) GetType() EventType {
	return StepSkippedEvent
}

type StepFailed struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	StepType    models.StepType `json:"step_type"`
	Error       string          `json:"error"`
	DurationMs  int64           `json:"duration_ms"`
}

func (s StepFailed) GetType() EventType {
	return StepFailedEvent
}

type DigestEventRecorded struct {
	BaseEvent

	ExecutionID string    `json:"execution_id"`
	StepID      string    `json:"step_id"`
	DigestKey   string    `json:"digest_key"`
	BucketID    string    `json:"bucket_id"`
	EventCount  int       `json:"event_count"`
	ClosesAt    time.Time `json:"closes_at"`
}

func (d DigestEventRecorded) GetType() EventType {
	return DigestEventRecordedEvent
}

type DigestFlushed struct {
	BaseEvent

	StepID     string           `json:"step_id"`
	DigestKey  string           `json:"digest_key"`
	BucketID   string           `json:"bucket_id"`
	EventCount int              `json:"event_count"`
	Events     []map[string]any `json:"events"`
}

func (d DigestFlushed) GetType() EventType {
	return DigestFlushedEvent
}

type NotificationRequested struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	Channel     models.StepType `json:"channel"`
	Recipient   string          `json:"recipient"`
	Content     map[string]any  `json:"content"`
	Providers   []string        `json:"providers,omitempty"`
}

func (n NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}
