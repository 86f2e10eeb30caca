package schema

import (
	"errors"
	"sync"
	"testing"

	"github.com/dukex/notiflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commentSchema() *models.JSONSchema {
	minLen := 1

	return models.ObjectSchema(map[string]*models.Property{
		"comment": {Type: "string", MinLength: &minLen},
		"post_id": {Type: "string"},
		"count":   {Type: "integer"},
	}, "comment")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		data          map[string]any
		schema        *models.JSONSchema
		expectedField string
		expectError   bool
	}{
		{
			name:   "valid payload",
			data:   map[string]any{"comment": "nice post", "post_id": "p1"},
			schema: commentSchema(),
		},
		{
			name:          "missing required field",
			data:          map[string]any{},
			schema:        commentSchema(),
			expectError:   true,
			expectedField: "comment",
		},
		{
			name:          "wrong type",
			data:          map[string]any{"comment": "hi", "count": "three"},
			schema:        commentSchema(),
			expectError:   true,
			expectedField: "count",
		},
		{
			name:   "whole float accepted as integer",
			data:   map[string]any{"comment": "hi", "count": float64(3)},
			schema: commentSchema(),
		},
		{
			name:   "nil schema accepts anything",
			data:   map[string]any{"anything": true},
			schema: nil,
		},
		{
			name:   "nil data with nil schema",
			data:   nil,
			schema: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			value, err := Validate(tt.data, tt.schema)

			if tt.expectError {
				require.Error(t, err)

				var validationErr *ValidationError
				require.True(t, errors.As(err, &validationErr))
				assert.Equal(t, tt.expectedField, validationErr.Field)
				assert.NotEmpty(t, validationErr.Reason)
				assert.True(t, IsValidationError(err))
				assert.Nil(t, value)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, value)
		})
	}
}

func TestValidate_ReturnsCopy(t *testing.T) {
	t.Parallel()

	data := map[string]any{"comment": "hi", "nested": map[string]any{"a": 1}}

	value, err := Validate(data, nil)
	require.NoError(t, err)

	value["comment"] = "changed"
	value["nested"].(map[string]any)["a"] = 2

	assert.Equal(t, "hi", data["comment"])
	assert.Equal(t, 1, data["nested"].(map[string]any)["a"])
}

func TestValidate_AdditionalPropertiesClosed(t *testing.T) {
	t.Parallel()

	_, err := Validate(map[string]any{"extra": 1}, models.EmptyObjectSchema())

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "extra", validationErr.Field)
}

func TestMergeWithDefaults(t *testing.T) {
	t.Parallel()

	s := models.ObjectSchema(map[string]*models.Property{
		"subject": {Type: "string", Default: "Hello"},
		"body":    {Type: "string"},
		"layout": {
			Type: "object",
			Properties: map[string]*models.Property{
				"color": {Type: "string", Default: "blue"},
				"logo":  {Type: "boolean", Default: true},
			},
		},
	})

	t.Run("fills absent fields", func(t *testing.T) {
		t.Parallel()

		resolved := MergeWithDefaults(nil, s)

		assert.Equal(t, "Hello", resolved["subject"])
		assert.NotContains(t, resolved, "body")
		assert.Equal(t, map[string]any{"color": "blue", "logo": true}, resolved["layout"])
	})

	t.Run("overrides win", func(t *testing.T) {
		t.Parallel()

		overrides := map[string]any{
			"subject": "Custom",
			"layout":  map[string]any{"color": "red"},
		}

		resolved := MergeWithDefaults(overrides, s)

		assert.Equal(t, "Custom", resolved["subject"])
		assert.Equal(t, map[string]any{"color": "red", "logo": true}, resolved["layout"])
		assert.Equal(t, map[string]any{"color": "red"}, overrides["layout"], "overrides must not be mutated")
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()

		overrides := map[string]any{"body": "text"}

		first, err := Resolve(overrides, s)
		require.NoError(t, err)

		second, err := Resolve(overrides, s)
		require.NoError(t, err)

		assert.Equal(t, first, second)

		again, err := Resolve(first, s)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	})

	t.Run("nil schema copies overrides", func(t *testing.T) {
		t.Parallel()

		resolved := MergeWithDefaults(map[string]any{"a": 1}, nil)
		assert.Equal(t, map[string]any{"a": 1}, resolved)
	})
}

func TestResolve_ConcurrentUse(t *testing.T) {
	t.Parallel()

	s := commentSchema()
	s.Properties["post_id"].Default = "p0"

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			resolved, err := Resolve(map[string]any{"comment": "hi"}, s)
			assert.NoError(t, err)
			assert.Equal(t, "p0", resolved["post_id"])
		}()
	}

	wg.Wait()
}
