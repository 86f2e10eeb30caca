// Package template renders step content from text/template sources.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(max int) int {
		if max <= 0 {
			return 0
		}
		num := make([]byte, 1)
		_, err := rand.Read(num)
		if err != nil {
			return 0
		}

		return int(num[0]) % max
	},
	"default": func(fallback, value any) any {
		if value == nil || value == "" {
			return fallback
		}

		return value
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"pluralize": func(count any, singular, plural string) string {
		if n, ok := toFloat(count); ok && n == 1 {
			return singular
		}

		return plural
	},
}

// RenderString executes templateStr against data and returns the raw text.
func RenderString(templateStr string, data any) (string, error) {
	tmpl, err := template.New("step").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// Render executes templateStr and coerces the text into JSON, a number or a
// boolean when it reads as one.
func Render(templateStr string, data any) (any, error) {
	result, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)

	if structured, ok, err := decodeJSON(result); ok {
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return structured, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// decodeJSON parses text that looks like a JSON object or array.
func decodeJSON(text string) (any, bool, error) {
	if !(strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}")) &&
		!(strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]")) {
		return nil, false, nil
	}

	var out any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, true, err
	}

	return out, true, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}
