// Package schema generates JSON Schemas for typed tool inputs and validates
// raw JSON documents against them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v6"
)

// For reflects the JSON Schema of T. Fields without omitempty are required and
// unknown properties are rejected. T may be a named or an anonymous struct.
func For[T any]() (map[string]any, error) {
	t := reflect.TypeFor[T]()
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		// The reflector looks expanded structs up by type name.
		ExpandedStruct: t.Kind() == reflect.Struct && t.Name() != "",
	}
	s := r.ReflectFromType(t)
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return m, nil
}

// ForLLM returns a copy of schema without the meta keywords tool definitions
// do not accept.
func ForLLM(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if k == "$schema" || k == "$id" {
			continue
		}
		out[k] = v
	}
	return out
}

// Validator validates documents against one compiled schema. It is safe for
// concurrent use.
type Validator struct {
	schema *validator.Schema
}

var resourceSeq atomic.Int64

// Compile compiles a schema given as a decoded JSON object.
func Compile(schema map[string]any) (*Validator, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return CompileJSON(data)
}

// CompileJSON compiles a schema given as JSON text.
func CompileJSON(data []byte) (*Validator, error) {
	doc, err := validator.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	url := fmt.Sprintf("https://egoist.local/schema/%d.json", resourceSeq.Add(1))
	c := validator.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// ValidateJSON parses raw and validates it. An empty document is treated as
// an empty object.
func (v *Validator) ValidateJSON(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	inst, err := validator.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return v.Validate(inst)
}

// Validate validates an already decoded document. Numbers must be
// json.Number, as produced by ValidateJSON.
func (v *Validator) Validate(inst any) error {
	if err := v.schema.Validate(inst); err != nil {
		return &Error{err: err}
	}
	return nil
}

// Error is a schema validation failure. Its message lists each offending
// location and keyword.
type Error struct {
	err error
}

func (e *Error) Error() string {
	// The validator reports one cause per line; keep tool results single-line.
	return strings.Join(strings.Fields(e.err.Error()), " ")
}

func (e *Error) Unwrap() error { return e.err }
