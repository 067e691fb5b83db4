package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/tether/internal/config"
)

func TestToolNameRoundTrip(t *testing.T) {
	name := ExternalToolName("github", "create_issue")
	if name != "mcp:github:create_issue" {
		t.Fatalf("ExternalToolName() = %q", name)
	}
	if !IsExternalToolName(name) {
		t.Error("IsExternalToolName() = false, want true")
	}
	if IsExternalToolName("run_command") {
		t.Error("IsExternalToolName(run_command) = true, want false")
	}

	server, tool, err := SplitToolName(name)
	if err != nil {
		t.Fatalf("SplitToolName() error = %v", err)
	}
	if server != "github" || tool != "create_issue" {
		t.Errorf("SplitToolName() = (%q, %q)", server, tool)
	}
}

func TestSplitToolNameErrors(t *testing.T) {
	for _, name := range []string{"run_command", "mcp:", "mcp:github", "mcp:github:", "mcp::tool"} {
		if _, _, err := SplitToolName(name); err == nil {
			t.Errorf("SplitToolName(%q) = nil error, want error", name)
		}
	}
}

// fakeServer implements enough of the MCP HTTP wire protocol for the
// manager tests.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.ID == nil {
			// Notification.
			w.WriteHeader(http.StatusOK)
			return
		}

		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "initialize":
			resp.Result = json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"fake","version":"0.1"}}`)
		case "tools/list":
			resp.Result = json.RawMessage(`{"tools":[{"name":"search","description":"Search the index","inputSchema":{"type":"object","properties":{"q":{"type":"string"}}}}]}`)
		case "tools/call":
			var params CallToolParams
			if err := json.Unmarshal(req.Params, &params); err != nil || params.Name != "search" {
				resp.Error = &JSONRPCError{Code: -32602, Message: "bad params"}
				break
			}
			resp.Result = json.RawMessage(`{"content":[{"type":"text","text":"3 results"}]}`)
		default:
			resp.Error = &JSONRPCError{Code: -32601, Message: "method not found"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestManager(t *testing.T, url string) *Manager {
	t.Helper()
	m := NewManager(config.MCPConfig{
		Servers: map[string]config.MCPServerConfig{
			"idx": {URL: url, Enabled: true},
			"off": {URL: "http://127.0.0.1:1", Enabled: false},
		},
	}, nil)
	m.Connect(context.Background())
	return m
}

func TestManagerActiveTools(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	tools := m.ActiveTools()
	if len(tools) != 1 {
		t.Fatalf("ActiveTools() returned %d tools, want 1", len(tools))
	}
	if tools[0].Name != "mcp:idx:search" {
		t.Errorf("tool name = %q, want mcp:idx:search", tools[0].Name)
	}
	if tools[0].Description != "Search the index" {
		t.Errorf("description = %q", tools[0].Description)
	}
}

func TestManagerInvokeTool(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	content, isError, err := m.InvokeTool(context.Background(), "mcp:idx:search", json.RawMessage(`{"q":"go"}`))
	if err != nil {
		t.Fatalf("InvokeTool() error = %v", err)
	}
	if isError {
		t.Error("isError = true, want false")
	}
	if content != "3 results" {
		t.Errorf("content = %q, want %q", content, "3 results")
	}

	if _, _, err := m.InvokeTool(context.Background(), "mcp:missing:tool", nil); err == nil {
		t.Error("InvokeTool(unknown server) = nil error, want error")
	}
}

func TestManagerDropsUnreachableServer(t *testing.T) {
	m := NewManager(config.MCPConfig{
		Servers: map[string]config.MCPServerConfig{
			"down": {URL: "http://127.0.0.1:1", Enabled: true},
		},
	}, nil)
	m.Connect(context.Background())
	if tools := m.ActiveTools(); len(tools) != 0 {
		t.Errorf("ActiveTools() = %d tools, want 0", len(tools))
	}
}
