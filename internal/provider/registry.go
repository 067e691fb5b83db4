package provider

import (
	"fmt"

	"github.com/haasonsaas/tether/internal/config"
)

// Registry holds the configured providers and resolves them by name.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// NewRegistry builds providers from configuration. Backends without an API
// key are skipped; entries under providers.extra are treated as
// OpenAI-compatible endpoints.
func NewRegistry(cfg config.ProvidersConfig) (*Registry, error) {
	r := &Registry{
		providers:   map[string]Provider{},
		defaultName: cfg.Default,
	}

	if cfg.Anthropic.APIKey != "" {
		p, err := NewAnthropic(AnthropicConfig{
			APIKey:       cfg.Anthropic.APIKey,
			BaseURL:      cfg.Anthropic.BaseURL,
			DefaultModel: cfg.Anthropic.DefaultModel,
			MaxTokens:    cfg.Anthropic.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		r.providers["anthropic"] = p
	}

	if cfg.OpenAI.APIKey != "" {
		p, err := NewOpenAI(OpenAIConfig{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			DefaultModel: cfg.OpenAI.DefaultModel,
			MaxTokens:    cfg.OpenAI.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		r.providers["openai"] = p
	}

	for name, backend := range cfg.Extra {
		if backend.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: base_url is required", name)
		}
		apiKey := backend.APIKey
		if apiKey == "" {
			// Local endpoints commonly accept any key.
			apiKey = "unused"
		}
		p, err := NewOpenAI(OpenAIConfig{
			APIKey:       apiKey,
			BaseURL:      backend.BaseURL,
			DefaultModel: backend.DefaultModel,
			MaxTokens:    backend.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		r.providers[name] = p
	}

	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	if _, ok := r.providers[r.defaultName]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", r.defaultName)
	}
	return r, nil
}

// NewStaticRegistry builds a registry from pre-constructed providers. The
// first provider is the default.
func NewStaticRegistry(providers ...Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers given")
	}
	r := &Registry{
		providers:   make(map[string]Provider, len(providers)),
		defaultName: providers[0].Name(),
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r, nil
}

// Get returns a provider by name. An empty name returns the default.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
	return p, nil
}

// Default returns the default provider.
func (r *Registry) Default() Provider {
	return r.providers[r.defaultName]
}

// Structured returns a provider that supports non-streamed completions.
func (r *Registry) Structured(name string) (StructuredClient, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	client, ok := p.(StructuredClient)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support structured completions", p.Name())
	}
	return client, nil
}

// Names returns the configured provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
