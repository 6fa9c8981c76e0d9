package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/loopworks/valet/errors"
	"gopkg.in/yaml.v3"
)

// NotesAccess restricts what the note tools may touch inside the notes
// directory. Patterns are doublestar globs relative to the directory.
type NotesAccess struct {
	Dir      string   `yaml:"dir"`
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

// Tracker configures the ticket tracker the lookup tool calls.
type Tracker struct {
	BaseURL string `yaml:"base_url"`
}

// MCPServer describes an external MCP tool server started as a subprocess.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Toolset names a selectable group of tools. MCP-served tools are addressed
// as "<server>:<tool>".
type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type Config struct {
	LLMClient    string `yaml:"llm"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`

	// Loop and session limits. Zero values fall back to the defaults set by
	// LoadConfig.
	MaxIterations        int `yaml:"max_iterations"`
	MaxSessions          int `yaml:"max_sessions"`
	SessionTTLMinutes    int `yaml:"session_ttl_minutes"`
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`

	CredentialsFile string `yaml:"credentials_file"`

	Toolsets             []Toolset   `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer `yaml:"additional_mcp_servers"`
	Notes                NotesAccess `yaml:"notes"`
	Tracker              Tracker     `yaml:"tracker"`
}

// LoadConfig loads configuration from the user's home directory and the
// current working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		MaxIterations:        5,
		MaxSessions:          100,
		SessionTTLMinutes:    30,
		SweepIntervalMinutes: 5,
	}
	cfg.Notes.Dir = filepath.Join(".valet", "notes")
	// The .valet directory itself stays invisible to the note tools.
	cfg.Notes.Hidden = append(cfg.Notes.Hidden, ".valet", ".valet/**")

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".valet", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".valet", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, which gives a simple
	// merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
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

// SessionTTL returns the inactivity window after which a session expires.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// SweepInterval returns how often the registry sweeps expired sessions.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}
