// Package mcptoolset sources agent capabilities from an external MCP
// server, over stdio or streamable HTTP. The connection is opened
// lazily on the first Tools call.
package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
)

const protocolVersion = "2024-11-05"

// Config selects the MCP server. Exactly one of URL and Command must
// be set.
type Config struct {
	// Name labels the toolset in logs.
	Name string

	// URL of a streamable HTTP MCP server.
	URL string

	// Command to launch a stdio MCP server.
	Command string
	Args    []string
	Env     []string

	// Filter keeps only the listed tool names. Empty keeps all.
	Filter []string
}

// Toolset is a lazily connected MCP tool source.
type Toolset struct {
	cfg       Config
	filterSet map[string]struct{}

	mu        sync.Mutex
	client    *client.Client
	tools     []agent.ToolDefinition
	connected bool
}

// New validates cfg and returns an unconnected toolset.
func New(cfg Config) (*Toolset, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("mcp toolset needs a url or a command")
	}
	if cfg.URL != "" && cfg.Command != "" {
		return nil, fmt.Errorf("mcp toolset takes a url or a command, not both")
	}
	if cfg.Name == "" {
		cfg.Name = "mcp"
	}

	t := &Toolset{cfg: cfg}
	if len(cfg.Filter) > 0 {
		t.filterSet = make(map[string]struct{}, len(cfg.Filter))
		for _, name := range cfg.Filter {
			t.filterSet[name] = struct{}{}
		}
	}
	return t, nil
}

// Name returns the toolset label.
func (t *Toolset) Name() string {
	return t.cfg.Name
}

// Tools connects on first use and returns the converted tool
// definitions.
func (t *Toolset) Tools(ctx context.Context) ([]agent.ToolDefinition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		if err := t.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	return t.tools, nil
}

func (t *Toolset) connectLocked(ctx context.Context) error {
	mcpClient, err := t.newClient()
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "voice-gateway",
		Version: "1.0",
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list MCP tools: %w", err)
	}

	t.client = mcpClient
	t.tools = t.convert(listResp.Tools)
	t.connected = true

	slog.Info("Connected to MCP server",
		"name", t.cfg.Name,
		"tools", len(t.tools),
	)
	return nil
}

func (t *Toolset) newClient() (*client.Client, error) {
	if t.cfg.Command != "" {
		return client.NewStdioMCPClient(t.cfg.Command, t.cfg.Env, t.cfg.Args...)
	}
	return client.NewStreamableHttpClient(t.cfg.URL)
}

// convert maps listed MCP tools onto tool definitions, applying the
// filter and skipping names reserved for agent switching.
func (t *Toolset) convert(listed []mcp.Tool) []agent.ToolDefinition {
	var out []agent.ToolDefinition
	for _, mcpTool := range listed {
		if t.filterSet != nil {
			if _, keep := t.filterSet[mcpTool.Name]; !keep {
				continue
			}
		}
		if agent.IsSwitchName(mcpTool.Name) {
			slog.Warn("Skipping MCP tool whose name is reserved for agent switching",
				"toolset", t.cfg.Name, "tool", mcpTool.Name)
			continue
		}

		name := mcpTool.Name
		out = append(out, agent.ToolDefinition{
			Name:        name,
			Description: mcpTool.Description,
			Parameters:  convertSchema(mcpTool.InputSchema),
			Handler: agent.AsyncHandler(func(ctx context.Context, params map[string]any) (any, error) {
				return t.call(ctx, name, params)
			}),
		})
	}
	return out
}

func (t *Toolset) call(ctx context.Context, name string, args map[string]any) (any, error) {
	t.mu.Lock()
	mcpClient := t.client
	t.mu.Unlock()
	if mcpClient == nil {
		return nil, fmt.Errorf("MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call failed: %w", err)
	}
	return parseToolResponse(resp)
}

// parseToolResponse flattens the text content of a call result.
func parseToolResponse(resp *mcp.CallToolResult) (any, error) {
	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}

	if resp.IsError {
		if len(texts) > 0 {
			return nil, fmt.Errorf("%s", texts[0])
		}
		return nil, fmt.Errorf("MCP tool reported an error")
	}
	if len(texts) == 0 {
		return "", nil
	}
	return strings.Join(texts, "\n"), nil
}

// convertSchema turns the MCP input schema into a plain map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// Close shuts the MCP connection down.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.connected = false
	return err
}
