package tools

import (
	"context"
	"encoding/json"
	"strings"
)

const MetaToolName = "meta"

// MetaRefusal is returned when the meta tool is asked to call itself.
const MetaRefusal = "I'm sorry but I cannot use the meta tool to call the meta tool as it might lead to infinite recursion."

type MetaInput struct {
	ToolName string         `json:"tool_name" jsonschema_description:"Name of tool to call"`
	ToolArgs map[string]any `json:"tool_args,omitempty" jsonschema_description:"JSON of arguments to pass to the tool, must conform to the tool input schema"`
}

type metaTool struct {
	registry *Registry
}

// NewMetaTool creates the meta tool, which calls any other tool in r by name.
func NewMetaTool(r *Registry) (Tool, error) {
	m := &metaTool{registry: r}
	return NewTool(MetaToolName,
		"Call a specified tool with the provided arguments. Always provide tool_args alongside tool_name; when omitted the tool is called with an empty object.",
		m.execute)
}

func (m *metaTool) execute(ctx context.Context, in MetaInput) (string, error) {
	name := strings.TrimPrefix(in.ToolName, "functions.")
	if name == MetaToolName {
		return MetaRefusal, nil
	}

	args, err := json.Marshal(in.ToolArgs)
	if err != nil {
		return "", err
	}
	if in.ToolArgs == nil {
		args = []byte("{}")
	}
	return callTool(ctx, m.registry, name, args), nil
}

// callTool invokes name and folds any failure into the returned text.
func callTool(ctx context.Context, r *Registry, name string, args json.RawMessage) string {
	result, err := Invoke(ctx, r, name, args)
	if err != nil {
		return Describe(name, args, err)
	}
	return result
}
