package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/m4xw311/egoist/errors"
)

const ChainToolName = "chain"

type ChainStep struct {
	ToolName string         `json:"tool_name" jsonschema_description:"Name of tool to call"`
	ToolArgs map[string]any `json:"tool_args" jsonschema_description:"Arguments to pass to the tool, possibly including ${prevStepId} placeholders"`
	StepID   string         `json:"step_id" jsonschema_description:"Id of the step, so that its output can be substituted into placeholders of later steps"`
}

type ChainInput struct {
	Steps []ChainStep `json:"steps" jsonschema_description:"List of steps to execute in order"`
}

type chainTool struct {
	registry *Registry
}

// NewChainTool creates the chain tool. Steps reach other tools through r.
func NewChainTool(r *Registry) (Tool, error) {
	c := &chainTool{registry: r}
	return NewTool(ChainToolName,
		"Execute the given chain of tool calls with provided arguments, with the possibility of using placeholders ${prevStepId} to pass output from earlier steps to later ones.",
		c.execute)
}

func (c *chainTool) execute(ctx context.Context, in ChainInput) (string, error) {
	results := orderedmap.New[string, string]()

	for i, step := range in.Steps {
		for pair := results.Oldest(); pair != nil; pair = pair.Next() {
			placeholder := "${" + pair.Key + "}"
			for j := i; j < len(in.Steps); j++ {
				Substitute(in.Steps[j].ToolArgs, placeholder, pair.Value)
			}
		}
		// Substitute rewrites maps in place, so step.ToolArgs is current.
		results.Set(step.StepID, c.runStep(ctx, step))
	}

	out, err := json.MarshalIndent(results, "", "    ")
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode chain results")
	}
	return string(out), nil
}

func (c *chainTool) runStep(ctx context.Context, step ChainStep) string {
	args, err := json.Marshal(step.ToolArgs)
	if err != nil {
		return fmt.Sprintf("Error executing step '%s': %v", step.StepID, err)
	}
	if step.ToolArgs == nil {
		args = []byte("{}")
	}
	result, err := Invoke(ctx, c.registry, step.ToolName, args)
	if err != nil {
		return strings.TrimSpace(fmt.Sprintf("Error executing step '%s': %s", step.StepID, Describe(step.ToolName, args, err)))
	}
	return unwrapSingle(result)
}

// unwrapSingle turns a JSON list holding exactly one string into that string,
// trimmed. Any other result is returned unchanged.
func unwrapSingle(result string) string {
	var list []any
	if err := json.Unmarshal([]byte(result), &list); err != nil || len(list) != 1 {
		return result
	}
	if s, ok := list[0].(string); ok {
		return strings.TrimSpace(s)
	}
	return result
}
