package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	s, err := New([]byte(`{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"count": {"type": "integer", "minimum": 0}
		},
		"additionalProperties": false
	}`))
	require.NoError(t, err)

	t.Run("accepts conforming value", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, s.Validate(map[string]any{"name": "translate", "count": 3}))
	})

	t.Run("rejects missing required field", func(t *testing.T) {
		t.Parallel()
		err := s.Validate(map[string]any{"count": 1})
		require.Error(t, err)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		require.NotEmpty(t, verr.Details)
		require.NotEmpty(t, verr.Value)
	})

	t.Run("rejects wrong type with instance path", func(t *testing.T) {
		t.Parallel()
		err := s.Validate(map[string]any{"name": "x", "count": "not a number"})
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		require.Len(t, verr.Details, 1)
		require.Equal(t, "/count", verr.Details[0].Path)
	})

	t.Run("validates raw JSON", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, s.ValidateJSON(json.RawMessage(`{"name":"ok"}`)))
		require.Error(t, s.ValidateJSON(json.RawMessage(`{"name":""}`)))
	})
}

func TestNewRejectsInvalidSchema(t *testing.T) {
	t.Parallel()

	_, err := New([]byte(`{"type": 12}`))
	require.Error(t, err)
}

func TestPermissive(t *testing.T) {
	t.Parallel()

	p := Permissive()
	require.NoError(t, p.Validate(map[string]any{"anything": true}))
	require.NoError(t, p.Validate(nil))
	require.Equal(t, json.RawMessage("true"), p.JSON())

	var nilSchema *Schema
	require.NoError(t, nilSchema.Validate("still fine"))
}

func TestInfer(t *testing.T) {
	t.Parallel()

	type request struct {
		Text  string `json:"text"`
		Limit int    `json:"limit,omitempty"`
	}

	s, err := Infer[request]()
	require.NoError(t, err)

	require.NoError(t, s.Validate(request{Text: "hello", Limit: 2}))
	require.NoError(t, s.Validate(map[string]any{"text": "hello"}))

	err = s.Validate(map[string]any{"limit": 2})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "missing required field should fail")

	require.Error(t, s.Validate(map[string]any{"text": "x", "limit": "two"}))
}

func TestInferPermissiveTypes(t *testing.T) {
	t.Parallel()

	anySchema, err := Infer[any]()
	require.NoError(t, err)
	require.NoError(t, anySchema.Validate(42))

	rawSchema, err := Infer[json.RawMessage]()
	require.NoError(t, err)
	require.NoError(t, rawSchema.Validate([]string{"a", "b"}))
}
