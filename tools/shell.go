package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/m4xw311/egoist/errors"
)

const ShellToolName = "shell"

type ShellCommand struct {
	Command   string   `json:"command" jsonschema_description:"Executable to run"`
	Arguments []string `json:"arguments,omitempty" jsonschema_description:"Arguments passed to the executable"`
}

type ShellInput struct {
	Commands []ShellCommand `json:"commands" jsonschema_description:"Commands to run in order"`
}

// shellTool runs executables directly, without a shell, so arguments are
// never subject to expansion.
type shellTool struct {
	allowedCommands []string
}

func NewShellTool(allowedCommands []string) (Tool, error) {
	t := &shellTool{allowedCommands: allowedCommands}
	return NewTool(ShellToolName, t.description(), t.execute)
}

func (t *shellTool) description() string {
	desc := "Run a list of commands and return a JSON list holding the combined output of each."
	if len(t.allowedCommands) == 0 {
		return desc + " No commands are currently allowed."
	}

	var b strings.Builder
	b.WriteString(desc)
	b.WriteString("\nAllowed command patterns:\n")
	for _, cmd := range t.allowedCommands {
		fmt.Fprintf(&b, "- %s\n", cmd)
	}
	return b.String()
}

func (t *shellTool) execute(ctx context.Context, in ShellInput) (string, error) {
	outputs := make([]string, 0, len(in.Commands))
	for _, c := range in.Commands {
		outputs = append(outputs, t.run(ctx, c))
	}
	data, err := json.Marshal(outputs)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode command output")
	}
	return string(data), nil
}

func (t *shellTool) run(ctx context.Context, c ShellCommand) string {
	line := strings.TrimSpace(c.Command + " " + strings.Join(c.Arguments, " "))
	if !isCommandAllowed(line, t.allowedCommands) {
		return fmt.Sprintf("command '%s' is not in the list of allowed commands", line)
	}

	output, err := exec.CommandContext(ctx, c.Command, c.Arguments...).CombinedOutput()
	if err != nil {
		return fmt.Sprintf("command '%s' failed: %v\n%s", line, err, output)
	}
	return string(output)
}
