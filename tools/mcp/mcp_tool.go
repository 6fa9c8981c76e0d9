// Package mcp connects the agent to external MCP (Model Context Protocol)
// servers and exposes the tools they serve. Each configured server runs as
// a subprocess speaking MCP over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/loopworks/valet/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client manages the connection to a single MCP server subprocess.
type Client struct {
	Name string

	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewClient starts the MCP server subprocess, connects to it over stdio,
// and discovers the tools it provides.
func NewClient(name, command string, args []string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "valet", Version: "v1.0.0"}, nil)
	ctx := context.Background()
	conn, err := sdkClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		killProcess(cmd)
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}

	client := &Client{
		Name:   name,
		cmd:    cmd,
		conn:   conn,
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "mcp", "server", name),
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			killProcess(cmd)
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}

		for _, t := range list.Tools {
			client.tools[t.Name] = &Tool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				inputSchema: schemaToMap(t.InputSchema),
				client:      client,
			}
		}

		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	client.logger.Info("MCP server connected", "tools", len(client.tools))
	return client, nil
}

// GetTool returns a specific tool provided by this server by its short name.
func (c *Client) GetTool(toolName string) (*Tool, bool) {
	tool, ok := c.tools[toolName]
	return tool, ok
}

// Tools returns every tool the server advertised, sorted by name.
func (c *Client) Tools() []*Tool {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Tool, 0, len(names))
	for _, name := range names {
		out = append(out, c.tools[name])
	}
	return out
}

// Stop closes the connection and terminates the server subprocess.
func (c *Client) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.logger.Info("terminating MCP server")
		return c.cmd.Process.Kill()
	}
	return nil
}

// Tool is a tool served by an external MCP server. It satisfies the
// tools.Tool interface from the parent package.
type Tool struct {
	serverName  string
	toolName    string
	description string
	inputSchema map[string]any
	client      *Client
}

// Name returns the short tool name as advertised by the server. Provider
// APIs reject names containing ':', so the server prefix is left out.
func (t *Tool) Name() string { return t.toolName }

func (t *Tool) Description() string { return t.description }

// InputSchema returns the parameter schema the server advertised.
func (t *Tool) InputSchema() map[string]any {
	if t.inputSchema == nil {
		return map[string]any{"type": "object"}
	}
	return t.inputSchema
}

// Execute forwards the call to the MCP server and concatenates the text
// content of the result.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s' on MCP server '%s'", t.toolName, t.serverName)
	}

	var out strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			out.WriteString(text.Text)
		}
	}
	return out.String(), nil
}

func killProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// schemaToMap round-trips an SDK schema value through JSON into the plain
// map form the rest of the tool layer works with.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
