package tools

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/loopworks/valet/config"
	"github.com/loopworks/valet/errors"
	"github.com/loopworks/valet/tools/mcp"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// InputSchema describes the tool's arguments as a JSON Schema object.
	// Provider adapters publish it alongside the tool definition.
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the built-in tools and the clients for any configured
// MCP servers.
type Registry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.Client
	logger     *slog.Logger
}

// NewRegistry registers the built-in tools and connects to the MCP servers
// named in the configuration. A server that fails to start is logged and
// skipped so one broken server does not take the agent down.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.Client),
		logger:     logger.With("component", "tools"),
	}

	r.Register(&CreateNoteTool{notes: &cfg.Notes})
	r.Register(&ReadNoteTool{notes: &cfg.Notes})
	r.Register(&ListNotesTool{notes: &cfg.Notes})
	r.Register(&LookupTicketTool{tracker: &cfg.Tracker})

	for _, server := range cfg.AdditionalMCPServers {
		client, err := mcp.NewClient(server.Name, server.Command, server.Args, logger)
		if err != nil {
			r.logger.Error("skipping MCP server", "server", server.Name, "error", err)
			continue
		}
		r.mcpClients[server.Name] = client
	}

	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Close stops every MCP server subprocess the registry started.
func (r *Registry) Close() {
	for _, client := range r.mcpClients {
		if err := client.Stop(); err != nil {
			r.logger.Warn("stopping MCP server", "server", client.Name, "error", err)
		}
	}
}

// GetActiveTools returns the tool instances for a toolset. Entries of the
// form "<server>:<tool>" resolve through the named MCP server, and
// "<server>:*" pulls in everything that server offers.
func (r *Registry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var active []Tool
	for _, name := range ts.Tools {
		if server, tool, ok := strings.Cut(name, ":"); ok {
			client, found := r.mcpClients[server]
			if !found {
				return nil, errors.New("toolset '%s' references unknown MCP server '%s'", ts.Name, server)
			}
			if tool == "*" {
				for _, t := range client.Tools() {
					active = append(active, t)
				}
				continue
			}
			t, found := client.GetTool(tool)
			if !found {
				return nil, errors.New("MCP server '%s' does not provide tool '%s'", server, tool)
			}
			active = append(active, t)
			continue
		}

		t, ok := r.GetTool(name)
		if !ok {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", name, ts.Name)
		}
		active = append(active, t)
	}
	return active, nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}
