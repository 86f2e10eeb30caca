package schema

import "github.com/dukex/notiflow/pkg/models"

// MergeWithDefaults returns the overrides completed with the defaults the schema
// declares for absent fields. Nested object properties are merged recursively.
// Neither argument is mutated.
func MergeWithDefaults(overrides map[string]any, s *models.JSONSchema) map[string]any {
	resolved := copyMap(overrides)
	if resolved == nil {
		resolved = map[string]any{}
	}

	if s == nil {
		return resolved
	}

	mergeProperties(resolved, s.Properties)

	return resolved
}

func mergeProperties(target map[string]any, properties map[string]*models.Property) {
	for name, prop := range properties {
		if prop == nil {
			continue
		}

		current, present := target[name]

		if !present && prop.Default != nil {
			target[name] = copyValue(prop.Default)
			current, present = target[name], true
		}

		if len(prop.Properties) == 0 {
			continue
		}

		nested, isObject := current.(map[string]any)

		switch {
		case present && isObject:
			mergeProperties(nested, prop.Properties)
		case !present && hasDefaults(prop.Properties):
			nested = map[string]any{}
			mergeProperties(nested, prop.Properties)
			target[name] = nested
		}
	}
}

func hasDefaults(properties map[string]*models.Property) bool {
	for _, prop := range properties {
		if prop == nil {
			continue
		}

		if prop.Default != nil || hasDefaults(prop.Properties) {
			return true
		}
	}

	return false
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}

	return out
}

func copyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return copyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = copyValue(item)
		}

		return out
	default:
		return v
	}
}

// Copy returns a deep copy of a decoded JSON object.
func Copy(in map[string]any) map[string]any {
	return copyMap(in)
}
