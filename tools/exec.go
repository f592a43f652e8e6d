package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/m4xw311/egoist/errors"
)

const ExecToolName = "exec"

type ExecInput struct {
	Code string `json:"code" jsonschema_description:"Starlark source to execute. print() output is returned. Globals persist between calls. call_tool(name, args_json) calls another tool and returns its result; json.encode and json.decode are available."`
}

// execTool runs Starlark source in one namespace that persists across calls.
// Executions are serialized by mu; the namespace has a single writer.
type execTool struct {
	registry *Registry

	mu      sync.Mutex
	globals starlark.StringDict
}

var execFileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

const ctxLocalKey = "ctx"

// NewExecTool creates the exec tool. call_tool reaches other tools through r.
func NewExecTool(r *Registry) (Tool, error) {
	t := &execTool{registry: r, globals: starlark.StringDict{}}
	return NewTool(ExecToolName, "Execute the given Starlark source code in a persistent namespace", t.execute)
}

func (t *execTool) execute(ctx context.Context, in ExecInput) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out strings.Builder
	thread := &starlark.Thread{
		Name: ExecToolName,
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg)
			out.WriteByte('\n')
		},
	}
	thread.SetLocal(ctxLocalKey, ctx)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	globals, err := starlark.ExecFileOptions(execFileOptions, thread, "exec.star", in.Code, t.predeclared())
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return "", errors.New("execution failed: %s\nOutput:\n%s", evalErr.Backtrace(), out.String())
		}
		return "", errors.Wrapf(err, "execution failed. Output:\n%s", out.String())
	}

	for name, v := range globals {
		t.globals[name] = v
	}
	return out.String(), nil
}

// predeclared returns the builtins plus every global kept from earlier runs.
// Globals of a run are frozen when it ends, so persisted lists and dicts are
// read-only in later runs.
func (t *execTool) predeclared() starlark.StringDict {
	env := starlark.StringDict{
		"call_tool": starlark.NewBuiltin("call_tool", t.callTool),
		"json":      starlarkjson.Module,
	}
	for name, v := range t.globals {
		env[name] = v
	}
	return env
}

func (t *execTool) callTool(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, argsJSON string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "args_json?", &argsJSON); err != nil {
		return nil, err
	}
	name = strings.TrimPrefix(name, "functions.")
	// These could re-enter exec while mu is held.
	switch name {
	case ExecToolName, MetaToolName, ChainToolName:
		return nil, errors.New("%s cannot call the %s tool", b.Name(), name)
	}
	if argsJSON == "" {
		argsJSON = "{}"
	}

	ctx, ok := thread.Local(ctxLocalKey).(context.Context)
	if !ok {
		ctx = context.Background()
	}
	return starlark.String(callTool(ctx, t.registry, name, json.RawMessage(argsJSON))), nil
}
