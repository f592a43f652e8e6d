package config

import (
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/egoist/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultModel       = "gpt-4-1106-preview"
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultTimeout     = 5 * time.Minute
	DefaultSessionsDir = ".egoist/sessions"
	DefaultStateFile   = "state.txt"
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Toolset names a group of tools. Tools holds doublestar patterns matched
// against tool names, so "*" selects everything and "github_*" selects all
// tools of an MCP server called github.
type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type Snapshot struct {
	Patterns   []string `yaml:"patterns"`
	InfraFiles []string `yaml:"infra_files"`
	Output     string   `yaml:"output"`
}

type Config struct {
	LLMClient            string           `yaml:"llm"`
	Model                string           `yaml:"model"`
	BaseURL              string           `yaml:"base_url"`
	Timeout              time.Duration    `yaml:"timeout"`
	SystemPrompt         string           `yaml:"system_prompt"`
	SessionsDir          string           `yaml:"sessions_dir"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
	Snapshot             Snapshot         `yaml:"snapshot"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".egoist", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".egoist", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only the fields present in the file, so the
	// project file replaces user-level values key by key.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyDefaults() {
	if c.LLMClient == "" {
		c.LLMClient = "openai"
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SessionsDir == "" {
		c.SessionsDir = DefaultSessionsDir
	}
	// The .egoist directory holds transcripts and is never exposed to tools,
	// whatever hidden list the files supplied.
	for _, p := range []string{".egoist", ".egoist/**"} {
		if !slices.Contains(c.FilesystemAccess.Hidden, p) {
			c.FilesystemAccess.Hidden = append(c.FilesystemAccess.Hidden, p)
		}
	}
	if len(c.Snapshot.Patterns) == 0 {
		c.Snapshot.Patterns = []string{"*.go", "**/*.go"}
	}
	if len(c.Snapshot.InfraFiles) == 0 {
		c.Snapshot.InfraFiles = []string{"go.mod", "Dockerfile", "docker-compose.yml", ".github/workflows/*.yml"}
	}
	if c.Snapshot.Output == "" {
		c.Snapshot.Output = DefaultStateFile
	}
}

// GetToolset finds a toolset by name. An empty name selects "default". When
// no toolsets are configured at all, a toolset matching every tool is returned.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	if len(c.Toolsets) == 0 {
		return &Toolset{Name: name, Tools: []string{"*"}}, nil
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}

// Includes reports whether the toolset selects the named tool.
func (ts *Toolset) Includes(toolName string) bool {
	for _, pattern := range ts.Tools {
		if ok, err := doublestar.Match(pattern, toolName); err == nil && ok {
			return true
		}
	}
	return false
}
