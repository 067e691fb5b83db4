package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/tether/internal/observability"
)

// Client connects to a single MCP server and caches its tool list.
type Client struct {
	id        string
	transport *httpTransport
	logger    *observability.Logger

	mu         sync.RWMutex
	tools      []*Tool
	serverInfo ServerInfo
}

// NewClient creates a client for one server. Call Connect before use.
func NewClient(id, url string, timeout time.Duration, logger *observability.Logger) *Client {
	return &Client{
		id:        id,
		transport: newHTTPTransport(url, timeout),
		logger:    logger,
	}
}

// ID returns the configured server identifier.
func (c *Client) ID() string { return c.id }

// Connect performs the initialize handshake and fetches the tool list.
func (c *Client) Connect(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "tether",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info(ctx, "connected to MCP server",
			"server_id", c.id,
			"name", initResult.ServerInfo.Name,
			"version", initResult.ServerInfo.Version)
	}

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil && c.logger != nil {
		c.logger.Warn(ctx, "failed to send initialized notification", "server_id", c.id, "error", err)
	}

	return c.RefreshTools(ctx)
}

// RefreshTools refreshes the cached tool list.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	return nil
}

// Tools returns the cached tools.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool calls a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	result, err := c.transport.Call(ctx, "tools/call", CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &callResult, nil
}
