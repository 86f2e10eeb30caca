// Package web provides the HTTP bridge through which a remote orchestrator
// discovers, health-checks and executes workflows.
package web

import (
	"encoding/json"
	"errors"

	"github.com/dukex/notiflow/pkg/models"
)

// Bridge actions selected with the action query parameter.
const (
	ActionHealthCheck = "health-check"
	ActionDiscover    = "discover"
	ActionCode        = "code"
	ActionExecute     = "execute"
)

var errInvalidRecipient = errors.New("to must be a subscriber id or an object with subscriberId")

// Recipient accepts either a subscriber id or an object carrying one.
type Recipient struct {
	SubscriberID string         `json:"subscriberId" validate:"required"`
	Attributes   map[string]any `json:"-"`
}

func (r *Recipient) UnmarshalJSON(data []byte) error {
	var subscriberID string
	if err := json.Unmarshal(data, &subscriberID); err == nil {
		r.SubscriberID = subscriberID

		return nil
	}

	var object map[string]any
	if err := json.Unmarshal(data, &object); err != nil || object == nil {
		return errInvalidRecipient
	}

	subscriberID, _ = object["subscriberId"].(string)
	delete(object, "subscriberId")

	r.SubscriberID = subscriberID
	r.Attributes = object

	return nil
}

// ExecuteRequest is the body of an execute call.
type ExecuteRequest struct {
	To           Recipient                 `json:"to"`
	Payload      map[string]any            `json:"payload"`
	Metadata     map[string]any            `json:"metadata,omitempty"`
	Controls     map[string]any            `json:"controls,omitempty"`
	StepControls map[string]map[string]any `json:"stepControls,omitempty"`
}

// StepSummary is the per-step part of an execute response.
type StepSummary struct {
	Status   models.StepStatus `json:"status"`
	Type     models.StepType   `json:"type"`
	Output   map[string]any    `json:"output,omitempty"`
	Delivery map[string]any    `json:"delivery,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ExecuteResponse reports the outcome of an execute call.
type ExecuteResponse struct {
	Status        models.ExecutionStatus `json:"status"`
	ExecutionID   string                 `json:"executionId"`
	WorkflowID    string                 `json:"workflowId"`
	StepsExecuted int                    `json:"steps_executed"`
	Results       map[string]StepSummary `json:"results"`
}

// NewExecuteResponse summarizes a terminal execution context.
func NewExecuteResponse(execCtx *models.ExecutionContext) ExecuteResponse {
	results := make(map[string]StepSummary, len(execCtx.StepResults))

	for _, result := range execCtx.Results() {
		results[result.StepID] = StepSummary{
			Status:   result.Status,
			Type:     result.Type,
			Output:   result.Output,
			Delivery: result.Delivery,
			Error:    result.Error,
		}
	}

	return ExecuteResponse{
		Status:        execCtx.Status,
		ExecutionID:   execCtx.ID,
		WorkflowID:    execCtx.WorkflowID,
		StepsExecuted: execCtx.Executed(),
		Results:       results,
	}
}
