package template

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/notiflow/pkg/models"
)

// Data builds the template data a step sees:
//
//	.recipient .payload .metadata .controls .workflow_controls .steps.<id>.output
func Data(in models.StepInput) map[string]any {
	steps := make(map[string]any, len(in.Steps))
	for id, result := range in.Steps {
		steps[id] = map[string]any{
			"status":   string(result.Status),
			"output":   result.Output,
			"delivery": result.Delivery,
		}
	}

	return map[string]any{
		"recipient":         in.Recipient,
		"payload":           in.Payload,
		"metadata":          in.Metadata,
		"controls":          in.Controls,
		"workflow_controls": in.WorkflowControls,
		"steps":             steps,
	}
}

// Content maps output fields to templates, for example {"subject": ..., "body": ...}.
// Fields rendering to a JSON object or array are decoded, every other field stays text.
type Content map[string]string

// Render renders every field. It satisfies models.RenderFunc.
func (c Content) Render(ctx context.Context, in models.StepInput) (map[string]any, error) {
	data := Data(in)
	out := make(map[string]any, len(c))

	for _, field := range slices.Sorted(maps.Keys(c)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := RenderString(c[field], data)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}

		if structured, ok, err := decodeJSON(strings.TrimSpace(text)); ok && err == nil {
			out[field] = structured

			continue
		}

		out[field] = text
	}

	return out, nil
}

// String renders the content source for introspection.
func (c Content) String() string {
	var b strings.Builder

	b.WriteString("template.Content{\n")

	for _, field := range slices.Sorted(maps.Keys(c)) {
		fmt.Fprintf(&b, "\t%s: %s,\n", strconv.Quote(field), strconv.Quote(c[field]))
	}

	b.WriteString("}")

	return b.String()
}

// Condition builds a skip predicate from a template rendering to true or false.
// Rendering failures do not skip.
func Condition(templateStr string) models.SkipFunc {
	return func(in models.StepInput) bool {
		result, err := Render(templateStr, Data(in))
		if err != nil {
			return false
		}

		skip, ok := result.(bool)

		return ok && skip
	}
}

// Key builds a digest key function from a template. The recipient is used when
// the template fails or renders blank.
func Key(templateStr string) models.DigestKeyFunc {
	return func(in models.StepInput) string {
		key, err := RenderString(templateStr, Data(in))
		key = strings.TrimSpace(key)

		if err != nil || key == "" || key == "<no value>" {
			return in.Recipient
		}

		return key
	}
}
