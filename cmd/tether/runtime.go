package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/tether/internal/config"
	"github.com/haasonsaas/tether/internal/decision"
	"github.com/haasonsaas/tether/internal/mcp"
	"github.com/haasonsaas/tether/internal/observability"
	"github.com/haasonsaas/tether/internal/provider"
	"github.com/haasonsaas/tether/internal/sessions"
	"github.com/haasonsaas/tether/internal/skills"
)

// runtime bundles the long-lived collaborators a command needs. Pieces are
// built on demand; Close releases whatever was built.
type runtime struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics

	store     sessions.Store
	registry  *provider.Registry
	decider   *decision.Decider
	skills    *skills.Library
	external  *mcp.Manager
	sweeper   *sessions.Sweeper
	metricsLn *http.Server
	tracer    *observability.Tracer

	traceShutdown func(context.Context) error
}

// loadConfig reads the configuration file, falling back to defaults when
// the default path does not exist. An explicitly named file must exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return config.Default(), nil
	}
	return config.Load(path)
}

// newRuntime wires the storage-side collaborators every command uses.
func newRuntime(cfg *config.Config) (*runtime, error) {
	rt := &runtime{
		cfg: cfg,
		logger: observability.NewLogger(observability.LogConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		}),
	}

	var err error
	switch cfg.Store.Driver {
	case "memory":
		rt.store = sessions.NewMemoryStore()
	default:
		rt.store, err = sessions.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
	}
	return rt, nil
}

// buildModelStack adds the provider, decision, skill, MCP, and telemetry
// collaborators needed to dispatch runs.
func (rt *runtime) buildModelStack(ctx context.Context) error {
	cfg := rt.cfg
	applyEnvKeys(cfg)

	if cfg.Metrics.Enabled {
		rt.metrics = observability.NewMetrics()
		rt.metricsLn = &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.Handler()}
		go func() {
			if err := rt.metricsLn.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Error(ctx, "metrics listener failed", "error", err)
			}
		}()
	}

	registry, err := provider.NewRegistry(cfg.Providers)
	if err != nil {
		return fmt.Errorf("configure providers: %w", err)
	}
	rt.registry = registry

	if client, err := registry.Structured(cfg.Decision.Provider); err == nil {
		rt.decider, err = decision.NewDecider(client, cfg.Decision, rt.logger, rt.metrics)
		if err != nil {
			return fmt.Errorf("configure decision layer: %w", err)
		}
	} else {
		rt.logger.Warn(ctx, "decision layer disabled", "error", err)
	}

	if len(cfg.Skills.Dirs) > 0 {
		rt.skills, err = skills.NewLibrary(cfg.Skills.Dirs, rt.logger)
		if err != nil {
			return fmt.Errorf("load skill library: %w", err)
		}
		if cfg.Skills.Watch {
			if err := rt.skills.Watch(); err != nil {
				rt.logger.Warn(ctx, "skill watching disabled", "error", err)
			}
		}
	}

	if len(cfg.MCP.Servers) > 0 {
		rt.external = mcp.NewManager(cfg.MCP, rt.logger)
		rt.external.Connect(ctx)
	}

	// No-op without an endpoint; the engine still gets a real Tracer.
	rt.tracer, rt.traceShutdown = observability.NewTracer(observability.TraceConfig{
		ServiceName:    "tether",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	if ttl := cfg.Store.ExpireAfter.Std(); ttl > 0 {
		rt.sweeper = sessions.NewSweeper(rt.store, ttl, cfg.Store.ExpirySchedule, rt.logger)
		if err := rt.sweeper.Start(); err != nil {
			rt.logger.Warn(ctx, "session expiry sweeper disabled", "error", err)
		}
	}
	return nil
}

func (rt *runtime) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rt.sweeper != nil {
		rt.sweeper.Stop()
	}
	if rt.skills != nil {
		_ = rt.skills.Close()
	}
	if rt.metricsLn != nil {
		_ = rt.metricsLn.Shutdown(shutdownCtx)
	}
	if rt.traceShutdown != nil {
		_ = rt.traceShutdown(shutdownCtx)
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

// applyEnvKeys fills in API keys from the conventional environment
// variables when the config leaves them blank.
func applyEnvKeys(cfg *config.Config) {
	if cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}
