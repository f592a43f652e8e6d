package tools

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/m4xw311/egoist/errors"
	"github.com/m4xw311/egoist/tools/schema"
)

// typedTool adapts a function over a Go input type to the Tool interface. The
// schema is reflected from T once, at construction.
type typedTool[T any] struct {
	name        string
	description string
	params      map[string]any
	validator   *schema.Validator
	fn          func(ctx context.Context, in T) (string, error)
}

// NewTool creates a tool whose arguments decode into T.
func NewTool[T any](name, description string, fn func(ctx context.Context, in T) (string, error)) (Tool, error) {
	s, err := schema.For[T]()
	if err != nil {
		return nil, errors.Wrapf(err, "schema for tool '%s'", name)
	}
	v, err := schema.Compile(s)
	if err != nil {
		return nil, errors.Wrapf(err, "compile schema for tool '%s'", name)
	}
	return &typedTool[T]{
		name:        name,
		description: description,
		params:      schema.ForLLM(s),
		validator:   v,
		fn:          fn,
	}, nil
}

func (t *typedTool[T]) Name() string               { return t.name }
func (t *typedTool[T]) Description() string        { return t.description }
func (t *typedTool[T]) Parameters() map[string]any { return t.params }

func (t *typedTool[T]) Validate(args json.RawMessage) error {
	return t.validator.ValidateJSON(args)
}

// Execute decodes args into T. Numbers inside untyped fields stay
// json.Number, so arguments forwarded to another tool keep their exact value.
func (t *typedTool[T]) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in T
	if len(bytes.TrimSpace(args)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(args))
		dec.UseNumber()
		if err := dec.Decode(&in); err != nil {
			return "", errors.Wrapf(err, "decode arguments for '%s'", t.name)
		}
	}
	return t.fn(ctx, in)
}
