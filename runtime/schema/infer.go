package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	invopop "github.com/invopop/jsonschema"
)

// Infer derives a schema from a Go type. Interface types (including any) and
// json.RawMessage yield a permissive schema since they carry no structure to
// validate against. Struct fields follow their json tags; fields without an
// omitempty tag are required.
func Infer[T any]() (*Schema, error) {
	var v T
	t := reflect.TypeOf(&v).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Interface || t == rawMessageType {
		return Permissive(), nil
	}
	r := &invopop.Reflector{Anonymous: true, DoNotReference: true}
	doc := r.ReflectFromType(t)
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal inferred schema: %w", err)
	}
	s, err := New(raw)
	if err != nil {
		return nil, fmt.Errorf("compile inferred schema: %w", err)
	}
	return s, nil
}

// MustInfer is Infer for static types known to reflect cleanly. It panics on
// error and is intended for package-level definitions.
func MustInfer[T any]() *Schema {
	s, err := Infer[T]()
	if err != nil {
		panic(err)
	}
	return s
}

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))
