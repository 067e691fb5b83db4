// Package config loads and validates Tether configuration files.
package config

import (
	"fmt"
	"time"
)

// Config is the main configuration structure for Tether.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Tokens    TokensConfig    `yaml:"tokens"`
	Decision  DecisionConfig  `yaml:"decision"`
	Store     StoreConfig     `yaml:"store"`
	Skills    SkillsConfig    `yaml:"skills"`
	MCP       MCPConfig       `yaml:"mcp"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// EngineConfig bounds the orchestration loop.
type EngineConfig struct {
	// SystemPrompt is the text inserted at the head of fresh sessions.
	SystemPrompt string `yaml:"system_prompt"`

	// RecursionLimit caps state-machine node visits within one run.
	RecursionLimit int `yaml:"recursion_limit"`

	// ApprovalMode controls command gating: "auto", "ask", "deny".
	ApprovalMode string `yaml:"approval_mode"`
}

// TokensConfig parameterizes budget tracking and pruning.
type TokensConfig struct {
	// OutputReserve is held back from the window for model output.
	OutputReserve int `yaml:"output_reserve"`

	// ProtectRecent exempts the N most recent tool results from pruning.
	ProtectRecent int `yaml:"protect_recent"`

	// PruneProtect is the token mass of recent results kept verbatim.
	PruneProtect int `yaml:"prune_protect"`

	// PruneMinimum is the smallest reclaim worth a history rewrite.
	PruneMinimum int `yaml:"prune_minimum"`

	// ProtectedTools are tool names whose results are never pruned.
	ProtectedTools []string `yaml:"protected_tools"`
}

// DecisionConfig parameterizes the secondary-model decision layer.
type DecisionConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	MaxAttempts int      `yaml:"max_attempts"`
	Timeout     Duration `yaml:"timeout"`

	// HistoryTail bounds how many trailing messages feed a decision prompt.
	HistoryTail int `yaml:"history_tail"`
}

// StoreConfig selects and parameterizes session persistence.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver"`

	// Path is the sqlite database file.
	Path string `yaml:"path"`

	// ExpireAfter purges sessions idle longer than this. Zero disables.
	ExpireAfter Duration `yaml:"expire_after"`

	// ExpirySchedule is a cron expression for the purge sweep.
	ExpirySchedule string `yaml:"expiry_schedule"`
}

// SkillsConfig parameterizes the skill library.
type SkillsConfig struct {
	// Dirs are directories scanned for skill definitions.
	Dirs []string `yaml:"dirs"`

	// Watch enables reactive reloading on file changes.
	Watch bool `yaml:"watch"`
}

// MCPConfig describes external tool servers bridged into the run.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig identifies one external tool server endpoint.
type MCPServerConfig struct {
	URL     string   `yaml:"url"`
	Enabled bool     `yaml:"enabled"`
	Timeout Duration `yaml:"timeout"`
}

// ProvidersConfig configures model backends.
type ProvidersConfig struct {
	Default   string                    `yaml:"default"`
	Anthropic ProviderBackendConfig     `yaml:"anthropic"`
	OpenAI    ProviderBackendConfig     `yaml:"openai"`
	Extra     map[string]ProviderBackendConfig `yaml:"extra"`
}

// ProviderBackendConfig is shared provider connection settings.
type ProviderBackendConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads a configuration file, resolves $include directives, expands
// environment variables, applies defaults, and validates.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with all defaults applied and no file input.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Engine.RecursionLimit == 0 {
		cfg.Engine.RecursionLimit = 200
	}
	if cfg.Engine.ApprovalMode == "" {
		cfg.Engine.ApprovalMode = "ask"
	}
	if cfg.Tokens.OutputReserve == 0 {
		cfg.Tokens.OutputReserve = 10000
	}
	if cfg.Tokens.ProtectRecent == 0 {
		cfg.Tokens.ProtectRecent = 10
	}
	if cfg.Tokens.PruneProtect == 0 {
		cfg.Tokens.PruneProtect = 40000
	}
	if cfg.Tokens.PruneMinimum == 0 {
		cfg.Tokens.PruneMinimum = 20000
	}
	if cfg.Tokens.ProtectedTools == nil {
		cfg.Tokens.ProtectedTools = []string{"load_skill"}
	}
	if cfg.Decision.MaxAttempts == 0 {
		cfg.Decision.MaxAttempts = 3
	}
	if cfg.Decision.Timeout == 0 {
		cfg.Decision.Timeout = Duration(30 * time.Second)
	}
	if cfg.Decision.HistoryTail == 0 {
		cfg.Decision.HistoryTail = 12
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "tether.db"
	}
	if cfg.Store.ExpirySchedule == "" {
		cfg.Store.ExpirySchedule = "@hourly"
	}
	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "anthropic"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.RecursionLimit < 1 {
		return fmt.Errorf("engine.recursion_limit must be positive")
	}
	switch c.Engine.ApprovalMode {
	case "auto", "ask", "deny":
	default:
		return fmt.Errorf("engine.approval_mode must be auto, ask, or deny: got %q", c.Engine.ApprovalMode)
	}
	if c.Tokens.OutputReserve < 0 || c.Tokens.PruneProtect < 0 || c.Tokens.PruneMinimum < 0 {
		return fmt.Errorf("tokens thresholds must be non-negative")
	}
	if c.Tokens.ProtectRecent < 0 {
		return fmt.Errorf("tokens.protect_recent must be non-negative")
	}
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("store.driver must be sqlite or memory: got %q", c.Store.Driver)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be within [0,1]")
	}
	return nil
}
