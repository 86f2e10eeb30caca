package models

import (
	"context"
	"reflect"
	"runtime"
	"strings"
)

// StepType identifies the channel (or special behaviour) of a step.
type StepType string

const (
	StepTypeInApp  StepType = "in_app"
	StepTypeEmail  StepType = "email"
	StepTypeSMS    StepType = "sms"
	StepTypePush   StepType = "push"
	StepTypeChat   StepType = "chat"
	StepTypeDigest StepType = "digest"
	StepTypeCustom StepType = "custom"
)

// StepTypes lists every supported step type.
var StepTypes = []StepType{
	StepTypeInApp,
	StepTypeEmail,
	StepTypeSMS,
	StepTypePush,
	StepTypeChat,
	StepTypeDigest,
	StepTypeCustom,
}

// IsChannel reports whether steps of this type hand content to a delivery provider.
func (t StepType) IsChannel() bool {
	switch t {
	case StepTypeInApp, StepTypeEmail, StepTypeSMS, StepTypePush, StepTypeChat:
		return true
	default:
		return false
	}
}

// StepInput is everything a render function or skip predicate can see.
type StepInput struct {
	Recipient        string                `json:"recipient"`
	Payload          map[string]any        `json:"payload"`
	Metadata         map[string]any        `json:"metadata,omitempty"`
	Controls         map[string]any        `json:"controls"`
	WorkflowControls map[string]any        `json:"workflow_controls,omitempty"`
	Steps            map[string]StepResult `json:"steps,omitempty"` // Results of earlier steps in the same execution
}

// RenderFunc produces the channel content of a step.
type RenderFunc func(ctx context.Context, in StepInput) (map[string]any, error)

// SkipFunc decides whether a step is bypassed.
type SkipFunc func(in StepInput) bool

// DigestKeyFunc picks the grouping value of a digest bucket. The recipient is used when nil.
type DigestKeyFunc func(in StepInput) string

// DigestOptions configures a digest step.
type DigestOptions struct {
	Schedule Schedule      `json:"schedule"`
	Key      DigestKeyFunc `json:"-"`
	KeyCode  string        `json:"key,omitempty"` // Textual form of Key for introspection
}

// Step is one notification action within a workflow.
type Step struct {
	ID            string         `json:"step_id"                  validate:"required"`
	Type          StepType       `json:"type"                     validate:"required,oneof=in_app email sms push chat digest custom"`
	Render        RenderFunc     `json:"-"`
	Skip          SkipFunc       `json:"-"`
	ControlSchema *JSONSchema    `json:"control_schema,omitempty"`
	OutputSchema  *JSONSchema    `json:"output_schema,omitempty"`
	ResultSchema  *JSONSchema    `json:"result_schema,omitempty"`
	Digest        *DigestOptions `json:"digest,omitempty"`
	Code          string         `json:"code,omitempty"`
	Providers     []string       `json:"providers,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
}

// RenderCode returns the introspection text of the step body.
func (s *Step) RenderCode() string {
	if s.Code != "" {
		return s.Code
	}

	var b strings.Builder

	b.WriteString("step.")
	b.WriteString(string(s.Type))
	b.WriteString("(\"")
	b.WriteString(s.ID)
	b.WriteString("\"")

	if s.Render != nil {
		b.WriteString(", ")
		b.WriteString(FuncName(s.Render))
	}

	if s.Skip != nil {
		b.WriteString(", skip: ")
		b.WriteString(FuncName(s.Skip))
	}

	if s.Digest != nil {
		b.WriteString(", schedule: \"")
		b.WriteString(s.Digest.Schedule.String())
		b.WriteString("\"")
	}

	b.WriteString(")")

	return b.String()
}

// FuncName returns the fully qualified name of a function value.
func FuncName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}

	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "func"
	}

	return f.Name()
}
