// Package schema wraps JSON Schema compilation and validation for action
// input, output, and stream chunk typing. Schemas compile once at definition
// time; validation round-trips values through JSON so numbers are seen as
// json.Number as required by the validator.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Schema is a compiled JSON Schema document. A permissive schema (no
	// document) accepts every value; Validate on it always succeeds.
	Schema struct {
		raw      json.RawMessage
		compiled *jsonschema.Schema
	}

	// ValidationError reports a value that failed schema validation. Details
	// hold one entry per violated constraint with the instance location that
	// triggered it. Value carries the serialized offending value so callers can
	// surface it alongside the failure.
	ValidationError struct {
		// Message summarizes the failure.
		Message string
		// Details lists individual violations, one per constraint.
		Details []Detail
		// Value is the JSON serialization of the value that failed.
		Value json.RawMessage
	}

	// Detail describes a single schema violation.
	Detail struct {
		// Path locates the offending value within the instance ("/" is the root).
		Path string
		// Message describes the violated constraint.
		Message string
	}
)

// New compiles a JSON Schema document. The document must be a valid draft
// 2020-12 schema; format assertions are enabled.
func New(raw []byte) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Schema{raw: json.RawMessage(bytes.Clone(raw)), compiled: compiled}, nil
}

// Permissive returns a schema that accepts every value.
func Permissive() *Schema {
	return &Schema{raw: json.RawMessage("true")}
}

// JSON returns the schema document as given to New. Permissive schemas return
// the JSON Schema boolean form "true".
func (s *Schema) JSON() json.RawMessage {
	if s == nil {
		return json.RawMessage("true")
	}
	return s.raw
}

// Validate checks a Go value against the schema. The value is round-tripped
// through JSON before validation. A nil Schema accepts everything.
func (s *Schema) Validate(v any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("serialize value for validation: %w", err)
	}
	return s.validateRaw(b)
}

// ValidateJSON checks a raw JSON value against the schema. A nil Schema
// accepts everything.
func (s *Schema) ValidateJSON(raw json.RawMessage) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	return s.validateRaw(raw)
}

func (s *Schema) validateRaw(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("unmarshal value for validation: %w", err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return newValidationError(err, raw)
	}
	return nil
}

// Error implements error. It lists every violation on one line.
func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Details))
	for i, d := range e.Details {
		parts[i] = fmt.Sprintf("%s: %s", d.Path, d.Message)
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, "; "))
}

// newValidationError converts a jsonschema validation failure into a
// ValidationError carrying leaf violations and the offending value.
func newValidationError(err error, raw []byte) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &ValidationError{Message: err.Error(), Value: bytes.Clone(raw)}
	}
	details := collectDetails(verr)
	msg := "schema validation failed"
	if len(details) == 1 {
		msg = details[0].Message
	} else if len(details) > 1 {
		msg = fmt.Sprintf("schema validation failed with %d violations", len(details))
	}
	return &ValidationError{Message: msg, Details: details, Value: bytes.Clone(raw)}
}

// collectDetails walks the validation error tree and collects leaf violations
// with their instance locations.
func collectDetails(verr *jsonschema.ValidationError) []Detail {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []Detail{{Path: loc, Message: verr.Error()}}
	}
	var details []Detail
	for _, cause := range verr.Causes {
		details = append(details, collectDetails(cause)...)
	}
	return details
}
