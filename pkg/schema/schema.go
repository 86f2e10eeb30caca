// Package schema validates payloads and controls against JSON Schemas and merges declared defaults.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/notiflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidSchema is returned when a schema itself cannot be compiled.
var ErrInvalidSchema = errors.New("invalid schema")

// FieldError describes one failed constraint.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError is returned when data does not satisfy a schema.
// Field and Reason describe the first failure; Details holds all of them.
type ValidationError struct {
	Field   string       `json:"field"`
	Reason  string       `json:"reason"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Details) <= 1 {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
	}

	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Reason)
	}

	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidationError checks if an error is a schema validation error.
func IsValidationError(err error) bool {
	var target *ValidationError

	return errors.As(err, &target)
}

// Compile checks that the schema itself is well formed. A nil schema compiles.
func Compile(s *models.JSONSchema) error {
	if s == nil {
		return nil
	}

	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	return nil
}

// Validate checks data against the schema and returns a copy of the validated value.
// A nil schema accepts any object.
func Validate(data map[string]any, s *models.JSONSchema) (map[string]any, error) {
	value := copyMap(data)
	if value == nil {
		value = map[string]any{}
	}

	if s == nil {
		return value, nil
	}

	schemaLoader := gojsonschema.NewGoLoader(s)
	dataLoader := gojsonschema.NewGoLoader(value)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	if !result.Valid() {
		details := make([]FieldError, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			details = append(details, FieldError{
				Field:  fieldName(resultErr),
				Reason: resultErr.Description(),
			})
		}

		return nil, &ValidationError{
			Field:   details[0].Field,
			Reason:  details[0].Reason,
			Details: details,
		}
	}

	return value, nil
}

// Resolve merges the schema defaults under the overrides and validates the result.
func Resolve(overrides map[string]any, s *models.JSONSchema) (map[string]any, error) {
	return Validate(MergeWithDefaults(overrides, s), s)
}

// fieldName reports the property a gojsonschema error is about. Errors on the
// root object ("required") carry the missing property in their details.
func fieldName(err gojsonschema.ResultError) string {
	field := err.Field()

	if property, ok := err.Details()["property"].(string); ok && property != "" {
		if field == gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
			return property
		}

		return field + "." + property
	}

	return field
}
