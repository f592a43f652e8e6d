package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/egoist/config"
	"github.com/m4xw311/egoist/errors"
	"github.com/m4xw311/egoist/tools/mcp"
)

// Tool defines the interface for any action the agent can take. Execute
// receives the raw JSON argument object exactly as the model produced it;
// callers are expected to run Validate first (see Invoke).
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON Schema of the argument object.
	Parameters() map[string]any
	Validate(args json.RawMessage) error
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry maps tool names to tools. It is populated during construction and
// only read afterwards, so lookups need no locking.
type Registry struct {
	tools   map[string]Tool
	closers []io.Closer
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewToolRegistry builds the registry for one toolset: every built-in tool
// and every tool of the configured MCP servers whose name the toolset
// includes. Close releases the MCP server processes.
func NewToolRegistry(ctx context.Context, cfg *config.Config, ts *config.Toolset) (*Registry, error) {
	r := NewRegistry()

	builtins := []func() (Tool, error){
		func() (Tool, error) { return NewShellTool(cfg.AllowedCommands) },
		func() (Tool, error) { return NewFileTool(&cfg.FilesystemAccess) },
		func() (Tool, error) { return NewHTTPTool(nil) },
		func() (Tool, error) { return NewDatabaseTool() },
		func() (Tool, error) { return NewWebScrapeTool(nil) },
		func() (Tool, error) { return NewSnapshotTool(cfg.Snapshot) },
		func() (Tool, error) { return NewExecTool(r) },
		func() (Tool, error) { return NewChainTool(r) },
		func() (Tool, error) { return NewMetaTool(r) },
	}
	for _, build := range builtins {
		t, err := build()
		if err != nil {
			return nil, err
		}
		if ts.Includes(t.Name()) {
			r.Register(t)
		}
	}

	for _, server := range cfg.AdditionalMCPServers {
		client, err := mcp.NewMCPClient(ctx, server.Name, server.Command, server.Args)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.closers = append(r.closers, client)
		for _, t := range client.Tools() {
			if ts.Includes(t.Name()) {
				r.Register(t)
			}
		}
	}

	slog.Debug("tool registry ready", "toolset", ts.Name, "tools", r.Names())
	return r, nil
}

// Register adds a tool, replacing any tool of the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Lookup returns the named tool or a *NotFoundError.
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{Name: name, Known: r.Names()}
	}
	return t, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, name := range r.Names() {
		out = append(out, r.tools[name])
	}
	return out
}

// Close stops every MCP server started by NewToolRegistry.
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command line is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) bool {
	if len(strings.Fields(command)) == 0 {
		return false
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			slog.Warn("invalid regex in allowed_commands", "pattern", pattern, "error", err)
			// Fallback to simple string comparison if regex is invalid
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}
