package terminal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/m4xw311/egoist/agent"
	"github.com/m4xw311/egoist/session"
	"github.com/m4xw311/egoist/tools"
)

// ListToolsCommand prints the available tools instead of being sent to the
// model.
const ListToolsCommand = "list tools"

// Terminal reads user input line by line and prints tool activity.
type Terminal struct {
	scanner  *bufio.Scanner
	out      io.Writer
	registry *tools.Registry
}

// New creates a Terminal reading from in and writing to out. registry backs
// the "list tools" command.
func New(in io.Reader, out io.Writer, registry *tools.Registry) *Terminal {
	return &Terminal{
		scanner:  bufio.NewScanner(in),
		out:      out,
		registry: registry,
	}
}

// Next prompts for and returns the next user message. It returns io.EOF at
// end of input or on /quit and /exit. Blocking reads are not interrupted by
// ctx.
func (t *Terminal) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprint(t.out, "> ")
		if !t.scanner.Scan() {
			if err := t.scanner.Err(); err != nil {
				return "", err
			}
			// EOF ends the session
			return "", io.EOF
		}

		userInput := strings.TrimSpace(t.scanner.Text())
		switch userInput {
		case "":
			continue
		case "/quit", "/exit":
			return "", io.EOF
		case ListToolsCommand:
			t.listTools()
			continue
		}
		return userInput, nil
	}
}

func (t *Terminal) listTools() {
	fmt.Fprintln(t.out, "Available tools:")
	for _, tool := range t.registry.Tools() {
		fmt.Fprintf(t.out, "%s --- %s\n", tool.Name(), tool.Description())
	}
}

// Callbacks returns callbacks printing tool results and errors, layered over
// base.
func (t *Terminal) Callbacks(base agent.Callbacks) agent.Callbacks {
	cb := base
	cb.OnToolResult = func(call session.ToolCall, result session.Message) {
		t.PrintToolResult(call, result)
		if base.OnToolResult != nil {
			base.OnToolResult(call, result)
		}
	}
	cb.OnError = func(err error) {
		fmt.Fprintf(t.out, "Error: %v\n", err)
		if base.OnError != nil {
			base.OnError(err)
		}
	}
	return cb
}

// PrintToolResult prints a tool result, indented when it is JSON.
func (t *Terminal) PrintToolResult(call session.ToolCall, result session.Message) {
	fmt.Fprintf(t.out, "=> %s\n%s\n", call.Name, Pretty(result.Content))
}

// Pretty indents s if it is a JSON document and returns it unchanged
// otherwise.
func Pretty(s string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "", "    "); err != nil {
		return s
	}
	return buf.String()
}
