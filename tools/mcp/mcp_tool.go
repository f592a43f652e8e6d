// Package mcp exposes the tools of external MCP servers. Each MCPTool
// satisfies the tools.Tool interface of the parent package.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m4xw311/egoist/errors"
	"github.com/m4xw311/egoist/tools/schema"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools []*MCPTool
}

// NewMCPClient starts the MCP server subprocess and discovers its tools.
func NewMCPClient(ctx context.Context, name, command string, args []string) (*MCPClient, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "egoist", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	c := &MCPClient{Name: name, cmd: cmd, conn: conn}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			c.tools = append(c.tools, newMCPTool(c, t))
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	slog.Info("initialized MCP client", "server", name, "tools", len(c.tools))
	return c, nil
}

// Tools returns the tools the server advertised.
func (c *MCPClient) Tools() []*MCPTool {
	return c.tools
}

// Close ends the session and terminates the server subprocess.
func (c *MCPClient) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		slog.Info("terminating MCP server", "server", c.Name)
		return c.cmd.Process.Kill()
	}
	return nil
}

// MCPTool represents a tool available from an external MCP server.
type MCPTool struct {
	serverName  string
	toolName    string
	description string
	params      map[string]any
	validator   *schema.Validator
	client      *MCPClient
}

func newMCPTool(c *MCPClient, t *mcpsdk.Tool) *MCPTool {
	tool := &MCPTool{
		serverName:  c.Name,
		toolName:    t.Name,
		description: t.Description,
		params:      map[string]any{"type": "object", "properties": map[string]any{}},
		client:      c,
	}
	if t.InputSchema == nil {
		return tool
	}

	data, err := json.Marshal(t.InputSchema)
	if err == nil {
		var m map[string]any
		if err = json.Unmarshal(data, &m); err == nil {
			tool.params = schema.ForLLM(m)
			tool.validator, err = schema.Compile(m)
		}
	}
	if err != nil {
		// The server still gets the call; it validates on its side.
		slog.Warn("MCP tool schema not usable for validation", "server", c.Name, "tool", t.Name, "error", err)
	}
	return tool
}

// Name returns "<server>_<tool>". Tool names may not contain ':' or '.' for
// every provider, so an underscore separates the parts.
func (t *MCPTool) Name() string {
	return fmt.Sprintf("%s_%s", t.serverName, t.toolName)
}

// Description returns the tool's description, provided by the MCP server.
func (t *MCPTool) Description() string {
	return t.description
}

func (t *MCPTool) Parameters() map[string]any {
	return t.params
}

func (t *MCPTool) Validate(args json.RawMessage) error {
	if t.validator == nil {
		return nil
	}
	return t.validator.ValidateJSON(args)
}

// Execute sends the arguments to the MCP server and returns the text content
// of the result.
func (t *MCPTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	arguments := map[string]any{}
	if len(bytes.TrimSpace(args)) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", errors.Wrapf(err, "invalid arguments for '%s'", t.Name())
		}
	}

	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: arguments,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}

	var out strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			out.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' reported an error: %s", t.Name(), out.String())
	}
	return out.String(), nil
}
