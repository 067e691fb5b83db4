package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tether.yaml", "engine:\n  system_prompt: hello\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.SystemPrompt != "hello" {
		t.Errorf("SystemPrompt = %q, want hello", cfg.Engine.SystemPrompt)
	}
	if cfg.Engine.RecursionLimit != 200 {
		t.Errorf("RecursionLimit = %d, want 200", cfg.Engine.RecursionLimit)
	}
	if cfg.Tokens.OutputReserve != 10000 {
		t.Errorf("OutputReserve = %d, want 10000", cfg.Tokens.OutputReserve)
	}
	if cfg.Tokens.PruneProtect != 40000 || cfg.Tokens.PruneMinimum != 20000 {
		t.Errorf("prune thresholds = %d/%d, want 40000/20000",
			cfg.Tokens.PruneProtect, cfg.Tokens.PruneMinimum)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "tokens:\n  output_reserve: 5000\nlogging:\n  level: debug\n")
	main := writeFile(t, dir, "main.yaml", "$include: base.yaml\nlogging:\n  level: warn\n")

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tokens.OutputReserve != 5000 {
		t.Errorf("included output_reserve = %d, want 5000", cfg.Tokens.OutputReserve)
	}
	// The including file wins on conflict.
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	pathA := filepath.Join(dir, "a.yaml")
	writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	if _, err := Load(pathA); err == nil {
		t.Error("Load did not detect include cycle")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TETHER_TEST_MODEL", "claude-sonnet-4")
	dir := t.TempDir()
	path := writeFile(t, dir, "tether.yaml",
		"providers:\n  anthropic:\n    default_model: ${TETHER_TEST_MODEL}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Anthropic.DefaultModel != "claude-sonnet-4" {
		t.Errorf("DefaultModel = %q, want claude-sonnet-4", cfg.Providers.Anthropic.DefaultModel)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tether.yaml", "enginee:\n  recursion_limit: 10\n")

	if _, err := Load(path); err == nil {
		t.Error("Load accepted unknown top-level key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"bad approval mode", func(c *Config) { c.Engine.ApprovalMode = "yolo" }, true},
		{"negative reserve", func(c *Config) { c.Tokens.OutputReserve = -1 }, true},
		{"bad store driver", func(c *Config) { c.Store.Driver = "postgres" }, true},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
		{"memory store valid", func(c *Config) { c.Store.Driver = "memory" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJSON5Config(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tether.json5", `{
  // decision layer uses a faster model
  decision: {timeout: "10s", model: "gpt-4o-mini"},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Decision.Model != "gpt-4o-mini" {
		t.Errorf("Decision.Model = %q, want gpt-4o-mini", cfg.Decision.Model)
	}
	if cfg.Decision.Timeout.Std() != 10*time.Second {
		t.Errorf("Decision.Timeout = %v, want 10s", cfg.Decision.Timeout.Std())
	}
}
