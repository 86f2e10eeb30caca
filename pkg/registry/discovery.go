package registry

import (
	"fmt"
	"strings"

	"github.com/dukex/notiflow/pkg/models"
)

// SchemaEnvelope wraps a schema the way the bridge protocol expects it.
type SchemaEnvelope struct {
	Schema        *models.JSONSchema `json:"schema"`
	UnknownSchema map[string]any     `json:"unknownSchema"`
}

func envelope(s *models.JSONSchema) SchemaEnvelope {
	if s == nil {
		s = models.EmptyObjectSchema()
	}

	return SchemaEnvelope{Schema: s, UnknownSchema: map[string]any{}}
}

type StepDetail struct {
	StepID    string          `json:"stepId"`
	Type      models.StepType `json:"type"`
	Controls  SchemaEnvelope  `json:"controls"`
	Outputs   SchemaEnvelope  `json:"outputs"`
	Results   SchemaEnvelope  `json:"results"`
	Code      string          `json:"code"`
	Options   map[string]any  `json:"options"`
	Providers []string        `json:"providers"`
}

type WorkflowDetail struct {
	WorkflowID  string         `json:"workflowId"`
	Severity    string         `json:"severity"`
	Steps       []StepDetail   `json:"steps"`
	Code        string         `json:"code"`
	Payload     SchemaEnvelope `json:"payload"`
	Controls    SchemaEnvelope `json:"controls"`
	Tags        []string       `json:"tags"`
	Preferences map[string]any `json:"preferences"`
}

type DiscoverResponse struct {
	Workflows []WorkflowDetail `json:"workflows"`
}

type DiscoveredCounts struct {
	Workflows int `json:"workflows"`
	Steps     int `json:"steps"`
}

type HealthCheckResponse struct {
	Status           string           `json:"status"`
	SDKVersion       string           `json:"sdkVersion"`
	FrameworkVersion string           `json:"frameworkVersion"`
	Discovered       DiscoveredCounts `json:"discovered"`
}

type CodeResponse struct {
	Code string `json:"code"`
}

// Describe builds the discovery document of one active workflow, or of every
// active workflow when workflowID is empty.
func (r *Registry) Describe(workflowID string) (*DiscoverResponse, error) {
	if workflowID != "" {
		workflow, err := r.activeWorkflow(workflowID)
		if err != nil {
			return nil, err
		}

		return &DiscoverResponse{Workflows: []WorkflowDetail{describeWorkflow(workflow)}}, nil
	}

	workflows := r.Workflows()
	response := &DiscoverResponse{Workflows: make([]WorkflowDetail, 0, len(workflows))}

	for _, workflow := range workflows {
		response.Workflows = append(response.Workflows, describeWorkflow(workflow))
	}

	return response, nil
}

// HealthCheck reports the active workflows and their steps.
func (r *Registry) HealthCheck() HealthCheckResponse {
	counts := DiscoveredCounts{}

	for _, workflow := range r.Workflows() {
		counts.Workflows++
		counts.Steps += len(workflow.Steps)
	}

	return HealthCheckResponse{
		Status:           "ok",
		SDKVersion:       SDKVersion,
		FrameworkVersion: FrameworkVersion,
		Discovered:       counts,
	}
}

// GetCode returns the introspection text of a step, or of the whole workflow
// when stepID is empty.
func (r *Registry) GetCode(workflowID, stepID string) (*CodeResponse, error) {
	workflow, err := r.activeWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	if stepID == "" {
		return &CodeResponse{Code: workflowCode(workflow)}, nil
	}

	step, ok := workflow.StepByID(stepID)
	if !ok {
		return nil, fmt.Errorf("%w: %s in workflow %s", ErrStepNotFound, stepID, workflowID)
	}

	return &CodeResponse{Code: step.RenderCode()}, nil
}

func describeWorkflow(workflow *models.Workflow) WorkflowDetail {
	steps := make([]StepDetail, 0, len(workflow.Steps))

	for _, step := range workflow.Steps {
		steps = append(steps, describeStep(step))
	}

	tags := workflow.Tags
	if tags == nil {
		tags = []string{}
	}

	preferences := workflow.Preferences
	if preferences == nil {
		preferences = map[string]any{}
	}

	return WorkflowDetail{
		WorkflowID:  workflow.ID,
		Severity:    "none",
		Steps:       steps,
		Code:        workflowCode(workflow),
		Payload:     envelope(workflow.PayloadSchema),
		Controls:    envelope(workflow.ControlSchema),
		Tags:        tags,
		Preferences: preferences,
	}
}

func describeStep(step *models.Step) StepDetail {
	providers := step.Providers
	if len(providers) == 0 {
		providers = []string{string(step.Type)}
	}

	options := step.Options
	if options == nil {
		options = map[string]any{}
	}

	return StepDetail{
		StepID:    step.ID,
		Type:      step.Type,
		Controls:  envelope(step.ControlSchema),
		Outputs:   envelope(step.OutputSchema),
		Results:   envelope(step.ResultSchema),
		Code:      step.RenderCode(),
		Options:   options,
		Providers: providers,
	}
}

func workflowCode(workflow *models.Workflow) string {
	var b strings.Builder

	fmt.Fprintf(&b, "workflow(%q, func(step) {\n", workflow.ID)

	for _, step := range workflow.Steps {
		for _, line := range strings.Split(step.RenderCode(), "\n") {
			b.WriteString("\t")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("})")

	return b.String()
}
