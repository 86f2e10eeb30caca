package models

import "encoding/json"

// JSONSchema is the validation contract of payloads and controls.
type JSONSchema struct {
	Schema               string               `json:"$schema,omitempty"`
	Type                 string               `json:"type,omitempty"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
	Title                string               `json:"title,omitempty"`
	Description          string               `json:"description,omitempty"`
	Version              string               `json:"version,omitempty"`
}

// Property represents a JSON Schema property
type Property struct {
	Type                 string               `json:"type,omitempty"`
	Description          string               `json:"description,omitempty"`
	Enum                 []any                `json:"enum,omitempty"`
	Default              any                  `json:"default,omitempty"`
	Format               string               `json:"format,omitempty"`
	MinLength            *int                 `json:"minLength,omitempty"`
	MaxLength            *int                 `json:"maxLength,omitempty"`
	Minimum              *float64             `json:"minimum,omitempty"`
	Maximum              *float64             `json:"maximum,omitempty"`
	Pattern              string               `json:"pattern,omitempty"`
	Items                *Property            `json:"items,omitempty"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
}

// ObjectSchema builds an object schema from its properties and required names.
func ObjectSchema(properties map[string]*Property, required ...string) *JSONSchema {
	return &JSONSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// EmptyObjectSchema is advertised when a workflow or step declares no schema.
func EmptyObjectSchema() *JSONSchema {
	closed := false

	return &JSONSchema{
		Type:                 "object",
		Properties:           map[string]*Property{},
		Required:             []string{},
		AdditionalProperties: &closed,
	}
}

// SchemaFromMap converts a decoded JSON/YAML document into a JSONSchema.
func SchemaFromMap(raw map[string]any) (*JSONSchema, error) {
	if raw == nil {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}

	return &schema, nil
}

// ToMap returns the schema as a generic document.
func (s *JSONSchema) ToMap() map[string]any {
	if s == nil {
		return nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}

	return out
}
