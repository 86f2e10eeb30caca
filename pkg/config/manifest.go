// Package config loads workflow manifests and the runtime configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dukex/notiflow/pkg/models"
	"github.com/dukex/notiflow/pkg/registry"
	"github.com/dukex/notiflow/pkg/template"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidManifest = errors.New("invalid workflow manifest")

// Manifest represents the structure of a workflows.yaml file.
type Manifest struct {
	Workflows []WorkflowManifest `yaml:"workflows" validate:"required,min=1,dive"`
}

// WorkflowManifest declares one workflow.
type WorkflowManifest struct {
	ID            string         `yaml:"id"             validate:"required"`
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Tags          []string       `yaml:"tags"`
	Preferences   map[string]any `yaml:"preferences"`
	PayloadSchema map[string]any `yaml:"payload_schema"`
	ControlSchema map[string]any `yaml:"control_schema"`
	Steps         []StepManifest `yaml:"steps"          validate:"required,min=1,dive"`
}

// StepManifest declares one step. Content fields are text/template sources
// rendered against the step input.
type StepManifest struct {
	ID            string            `yaml:"id"             validate:"required"`
	Type          models.StepType   `yaml:"type"           validate:"required,oneof=in_app email sms push chat digest custom"`
	Content       map[string]string `yaml:"content"`
	Skip          string            `yaml:"skip"`
	ControlSchema map[string]any    `yaml:"control_schema"`
	OutputSchema  map[string]any    `yaml:"output_schema"`
	Providers     []string          `yaml:"providers"`
	Options       map[string]any    `yaml:"options"`
	Digest        *DigestManifest   `yaml:"digest"         validate:"required_if=Type digest"`
}

// DigestManifest configures a digest step.
type DigestManifest struct {
	Cron     string `yaml:"cron"     validate:"required"`
	Timezone string `yaml:"timezone"`
	Key      string `yaml:"key"`
}

// LoadManifest loads and validates a workflow manifest from a YAML file.
func LoadManifest(filepath string) (*Manifest, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file %s: %w", filepath, err)
	}

	return ParseManifest(bytes.NewReader(data))
}

// ParseManifest decodes and validates a workflow manifest.
func ParseManifest(r io.Reader) (*Manifest, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var manifest Manifest
	if err := decoder.Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: manifest is empty", ErrInvalidManifest)
		}

		return nil, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidManifest, err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// Validate checks the manifest structure. Workflow semantics are checked at registration.
func (m *Manifest) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	return nil
}

// Register registers every workflow of the manifest, stopping at the first failure.
func (m *Manifest) Register(reg *registry.Registry) ([]*registry.Handle, error) {
	handles := make([]*registry.Handle, 0, len(m.Workflows))

	for _, wm := range m.Workflows {
		handle, err := wm.Register(reg)
		if err != nil {
			return handles, err
		}

		handles = append(handles, handle)
	}

	return handles, nil
}

// Register builds the workflow's steps and registers it.
func (wm WorkflowManifest) Register(reg *registry.Registry) (*registry.Handle, error) {
	payloadSchema, err := models.SchemaFromMap(wm.PayloadSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: workflow %s payload_schema: %w", ErrInvalidManifest, wm.ID, err)
	}

	controlSchema, err := models.SchemaFromMap(wm.ControlSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: workflow %s control_schema: %w", ErrInvalidManifest, wm.ID, err)
	}

	steps := make([]*models.Step, 0, len(wm.Steps))

	for _, sm := range wm.Steps {
		step, err := sm.Step()
		if err != nil {
			return nil, fmt.Errorf("%w: workflow %s: %w", ErrInvalidManifest, wm.ID, err)
		}

		steps = append(steps, step)
	}

	opts := []registry.WorkflowOption{registry.WithTags(wm.Tags...)}

	if wm.Name != "" {
		opts = append(opts, registry.WithName(wm.Name))
	}

	if wm.Description != "" {
		opts = append(opts, registry.WithDescription(wm.Description))
	}

	if wm.Preferences != nil {
		opts = append(opts, registry.WithPreferences(wm.Preferences))
	}

	if controlSchema != nil {
		opts = append(opts, registry.WithControlSchema(controlSchema))
	}

	return reg.Register(wm.ID, steps, payloadSchema, opts...)
}

// Step converts the declaration into a step backed by templates.
func (sm StepManifest) Step() (*models.Step, error) {
	controlSchema, err := models.SchemaFromMap(sm.ControlSchema)
	if err != nil {
		return nil, fmt.Errorf("step %s control_schema: %w", sm.ID, err)
	}

	outputSchema, err := models.SchemaFromMap(sm.OutputSchema)
	if err != nil {
		return nil, fmt.Errorf("step %s output_schema: %w", sm.ID, err)
	}

	step := &models.Step{
		ID:            sm.ID,
		Type:          sm.Type,
		ControlSchema: controlSchema,
		OutputSchema:  outputSchema,
		Providers:     sm.Providers,
		Options:       sm.Options,
	}

	var code strings.Builder

	fmt.Fprintf(&code, "step.%s(%q", sm.Type, sm.ID)

	if len(sm.Content) > 0 {
		content := template.Content(sm.Content)
		step.Render = content.Render

		code.WriteString(", ")
		code.WriteString(content.String())
	}

	if sm.Skip != "" {
		step.Skip = template.Condition(sm.Skip)

		fmt.Fprintf(&code, ", skip: %q", sm.Skip)
	}

	if sm.Digest != nil {
		step.Digest = &models.DigestOptions{
			Schedule: models.Schedule{CronExpression: sm.Digest.Cron, Timezone: sm.Digest.Timezone},
		}

		fmt.Fprintf(&code, ", schedule: %q", step.Digest.Schedule.String())

		if sm.Digest.Key != "" {
			step.Digest.Key = template.Key(sm.Digest.Key)
			step.Digest.KeyCode = sm.Digest.Key

			fmt.Fprintf(&code, ", key: %q", sm.Digest.Key)
		}
	}

	code.WriteString(")")
	step.Code = code.String()

	return step, nil
}
