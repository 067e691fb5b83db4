package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/tether/internal/config"
	"github.com/haasonsaas/tether/internal/observability"
)

// ToolNamePrefix marks tool names that route to an MCP server instead of a
// built-in executor.
const ToolNamePrefix = "mcp:"

// IsExternalToolName reports whether a tool name belongs to an MCP server.
func IsExternalToolName(name string) bool {
	return strings.HasPrefix(name, ToolNamePrefix)
}

// ExternalToolName builds the namespaced name the model sees for a server
// tool: "mcp:<server>:<tool>".
func ExternalToolName(serverID, toolName string) string {
	return ToolNamePrefix + serverID + ":" + toolName
}

// SplitToolName splits a namespaced external tool name into server ID and
// tool name.
func SplitToolName(name string) (serverID, toolName string, err error) {
	if !IsExternalToolName(name) {
		return "", "", fmt.Errorf("not an external tool name: %q", name)
	}
	rest := strings.TrimPrefix(name, ToolNamePrefix)
	idx := strings.Index(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("malformed external tool name: %q", name)
	}
	return rest[:idx], rest[idx+1:], nil
}

// Manager holds clients for all enabled servers and routes namespaced tool
// calls to them.
type Manager struct {
	logger *observability.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewManager creates clients for every enabled server in the config. No
// connections are made until Connect.
func NewManager(cfg config.MCPConfig, logger *observability.Logger) *Manager {
	m := &Manager{
		logger:  logger,
		clients: map[string]*Client{},
	}
	for id, server := range cfg.Servers {
		if !server.Enabled {
			continue
		}
		m.clients[id] = NewClient(id, server.URL, server.Timeout.Std(), logger)
	}
	return m
}

// Connect connects to all enabled servers. A server that fails to connect
// is dropped with a warning; the rest keep working.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		if err := client.Connect(ctx); err != nil {
			if m.logger != nil {
				m.logger.Warn(ctx, "MCP server unavailable", "server_id", id, "error", err)
			}
			delete(m.clients, id)
		}
	}
}

// ActiveTools returns the namespaced tools of all connected servers,
// sorted by name.
func (m *Manager) ActiveTools() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Tool
	for id, client := range m.clients {
		for _, tool := range client.Tools() {
			desc := strings.TrimSpace(tool.Description)
			if desc == "" {
				desc = fmt.Sprintf("Tool %s on MCP server %s", tool.Name, id)
			}
			schema := tool.InputSchema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			out = append(out, Tool{
				Name:        ExternalToolName(id, tool.Name),
				Description: desc,
				InputSchema: schema,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// InvokeTool routes a namespaced tool call to its server and flattens the
// result into text. The bool reports whether the server flagged an error.
func (m *Manager) InvokeTool(ctx context.Context, name string, arguments json.RawMessage) (string, bool, error) {
	serverID, toolName, err := SplitToolName(name)
	if err != nil {
		return "", false, err
	}

	m.mu.RLock()
	client, ok := m.clients[serverID]
	m.mu.RUnlock()
	if !ok {
		return "", false, fmt.Errorf("unknown MCP server: %q", serverID)
	}

	result, err := client.CallTool(ctx, toolName, arguments)
	if err != nil {
		return "", false, err
	}
	return flattenResult(result), result.IsError, nil
}

// flattenResult joins textual content parts; non-text parts are summarized
// rather than inlined.
func flattenResult(result *ToolCallResult) string {
	var parts []string
	for _, content := range result.Content {
		switch content.Type {
		case "text":
			parts = append(parts, content.Text)
		case "image":
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes base64]", content.MimeType, len(content.Data)))
		default:
			parts = append(parts, fmt.Sprintf("[%s content]", content.Type))
		}
	}
	return strings.Join(parts, "\n")
}
