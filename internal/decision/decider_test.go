package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/tether/internal/backoff"
	"github.com/haasonsaas/tether/internal/config"
	"github.com/haasonsaas/tether/internal/provider"
	"github.com/haasonsaas/tether/pkg/models"
)

// scriptedClient returns canned responses in order, recording the requests
// it saw.
type scriptedClient struct {
	responses []string
	errs      []error
	requests  []*provider.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req *provider.Request) (string, error) {
	c.requests = append(c.requests, req)
	i := len(c.requests) - 1
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	var resp string
	if i < len(c.responses) {
		resp = c.responses[i]
	}
	return resp, err
}

func newTestDecider(t *testing.T, client provider.StructuredClient) *Decider {
	t.Helper()
	d, err := NewDecider(client, config.DecisionConfig{MaxAttempts: 3, HistoryTail: 4}, nil, nil)
	if err != nil {
		t.Fatalf("NewDecider() error = %v", err)
	}
	return d
}

func TestWillBlockStrictPath(t *testing.T) {
	client := &scriptedClient{responses: []string{`{"blocks": false, "reason": "starts a server"}`}}
	d := newTestDecider(t, client)
	d.Begin("s1")
	defer d.Clear("s1")

	got := d.WillBlock(context.Background(), "s1", "npm run dev", nil)
	if got.Blocks {
		t.Errorf("Blocks = true, want false")
	}
	if len(client.requests) != 1 {
		t.Fatalf("made %d requests, want 1", len(client.requests))
	}
	if !client.requests[0].ForceJSON {
		t.Error("strict path did not request JSON mode")
	}
	if d.InFallback("s1") {
		t.Error("session in fallback after successful strict decode")
	}
}

func TestWillBlockStickyFallback(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"I think it blocks.",                              // strict decode fails, freeform finds no JSON
		`Sure! Here you go: {"blocks": true} hope it helps`, // retry, freeform
		`{"blocks": false}`,                               // second decision, still freeform
	}}
	d := newTestDecider(t, client)
	d.Begin("s1")

	got := d.WillBlock(context.Background(), "s1", "make build", nil)
	if !got.Blocks {
		t.Errorf("first decision Blocks = false, want true")
	}
	if !d.InFallback("s1") {
		t.Error("session not in fallback after strict failure")
	}

	got = d.WillBlock(context.Background(), "s1", "go test ./...", nil)
	if got.Blocks {
		t.Errorf("second decision Blocks = true, want false")
	}
	// Requests after the first never ask for strict JSON mode again.
	for i, req := range client.requests[1:] {
		if req.ForceJSON {
			t.Errorf("request %d used strict mode after fallback", i+1)
		}
	}

	d.Clear("s1")
	if d.InFallback("s1") {
		t.Error("fallback flag survived Clear")
	}
}

func TestWillBlockConservativeDefault(t *testing.T) {
	client := &scriptedClient{errs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}
	d := newTestDecider(t, client)
	d.Begin("s1")

	got := d.WillBlock(context.Background(), "s1", "cargo build", nil)
	if !got.Blocks {
		t.Errorf("exhausted decision Blocks = false, want conservative true")
	}
	if len(client.requests) != 3 {
		t.Errorf("made %d requests, want 3", len(client.requests))
	}
}

func TestWillBlockBacksOffBetweenAttempts(t *testing.T) {
	client := &scriptedClient{
		errs:      []error{errors.New("boom"), errors.New("boom")},
		responses: []string{"", "", `{"blocks": true}`},
	}
	d := newTestDecider(t, client)
	d.retryPolicy = backoff.BackoffPolicy{InitialMs: 20, MaxMs: 100, Factor: 2, Jitter: 0}
	d.Begin("s1")
	defer d.Clear("s1")

	start := time.Now()
	got := d.WillBlock(context.Background(), "s1", "make build", nil)
	if !got.Blocks {
		t.Errorf("Blocks = false, want true after recovery")
	}
	if len(client.requests) != 3 {
		t.Fatalf("made %d requests, want 3", len(client.requests))
	}
	// Two sleeps at 20ms and 40ms sit between the three attempts.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 60ms of backoff", elapsed)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"prose before {\"a\": {\"b\": 2}} prose after", `{"a": {"b": 2}}`, true},
		{`text with "{" in a string: {"s": "has } brace"} end`, `{"s": "has } brace"}`, true},
		{"no json here", "", false},
		{`{"unclosed": true`, "", false},
	}
	for _, tt := range tests {
		got, ok := extractJSONObject(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("extractJSONObject(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestReduceHistory(t *testing.T) {
	history := []*models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "u1"},
		{Role: models.RoleAssistant, Content: "a1"},
		{Role: models.RoleTool, Content: "giant tool output", ToolResults: []models.ToolResult{{Content: "big"}}},
		{Role: models.RoleUser, Content: "u2"},
	}

	got := reduceHistory(history, 2)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3 (system + tail of 2)", len(got))
	}
	if got[0].Role != models.RoleSystem {
		t.Errorf("first message role = %s, want system", got[0].Role)
	}
	if got[1].Content != "[tool output omitted]" {
		t.Errorf("tool message content = %q, want elided marker", got[1].Content)
	}
	if got[2].Content != "u2" {
		t.Errorf("last message = %q, want u2", got[2].Content)
	}
}
