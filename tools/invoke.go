package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/m4xw311/egoist/errors"
)

// NotFoundError reports a lookup of a tool that is not registered.
type NotFoundError struct {
	Name  string
	Known []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("invalid tool '%s'; known tools: %s", e.Name, strings.Join(e.Known, ", "))
}

// ValidationError reports arguments that do not match a tool's schema.
type ValidationError struct {
	Tool string
	Args string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool '%s': %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PanicError is a panic recovered from a tool's Execute.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tool panicked: %v\n%s", e.Value, e.Stack)
}

// Invoke looks up, validates and executes one tool call. Panics inside the
// tool are returned as *PanicError; Invoke itself never panics on behalf of a
// tool.
func Invoke(ctx context.Context, r *Registry, name string, args json.RawMessage) (result string, err error) {
	t, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	if err := t.Validate(args); err != nil {
		return "", &ValidationError{Tool: name, Args: string(args), Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()

	slog.Debug("tool start", "tool", name)
	start := time.Now()
	result, err = t.Execute(ctx, args)
	if err != nil {
		slog.Debug("tool end", "tool", name, "duration", time.Since(start), "error", err)
		return "", err
	}
	slog.Debug("tool end", "tool", name, "duration", time.Since(start))
	return result, nil
}

// Describe renders a tool-level failure as the string result handed back to
// the model. args are the original arguments of the failed call.
func Describe(name string, args json.RawMessage, err error) string {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return "Error: " + nf.Error()
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "Error: " + ve.Error()
	}
	return fmt.Sprintf("Error executing tool '%s' with arguments %s: %v", name, string(args), err)
}
