package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting engine metrics.
//
// Tracks:
//   - Run lifecycle (dispatched, finished by outcome, active gauge)
//   - Model request latency, retries, and outcomes
//   - Tool execution patterns and latencies
//   - Working-set pruning commits and reclaimed tokens
//   - Session store query performance
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RunStarted()
//	defer metrics.RunFinished("completed", time.Since(start).Seconds())
type Metrics struct {
	// RunCounter counts runs by outcome.
	// Labels: outcome (completed|cancelled|error)
	RunCounter *prometheus.CounterVec

	// RunDuration measures run wall time in seconds.
	// Labels: outcome
	// Buckets: 0.5s, 1s, 5s, 15s, 30s, 60s, 120s, 300s, 600s
	RunDuration *prometheus.HistogramVec

	// ActiveRuns is a gauge of currently executing runs.
	ActiveRuns prometheus.Gauge

	// ModelRequestDuration measures model API call latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests by provider, model, status.
	// Labels: provider, model, status (success|error|cancelled)
	ModelRequestCounter *prometheus.CounterVec

	// ModelRetryCounter counts model request retry attempts.
	// Labels: provider
	ModelRetryCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, code (ok|skipped|canceled|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// PruneCounter counts working-set prune commits.
	PruneCounter prometheus.Counter

	// PruneReclaimedTokens accumulates estimated tokens reclaimed by pruning.
	PruneReclaimedTokens prometheus.Counter

	// DecisionFallbackCounter counts sessions flipped to freeform decoding.
	DecisionFallbackCounter prometheus.Counter

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (engine|provider|store|tool|decision), error_type
	ErrorCounter *prometheus.CounterVec

	// StoreQueryDuration measures session store query latency.
	// Labels: operation (load|save|rollback|list|delete)
	StoreQueryDuration *prometheus.HistogramVec

	// StoreQueryCounter counts session store queries.
	// Labels: operation, status (success|error)
	StoreQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// Call once at startup; metrics register with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_runs_total",
				Help: "Total number of runs by outcome",
			},
			[]string{"outcome"},
		),

		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tether_run_duration_seconds",
				Help:    "Wall time of runs in seconds",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tether_active_runs",
				Help: "Current number of executing runs",
			},
		),

		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tether_model_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelRetryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_model_retries_total",
				Help: "Total number of model request retry attempts",
			},
			[]string{"provider"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_tool_executions_total",
				Help: "Total number of tool executions by tool name and result code",
			},
			[]string{"tool_name", "code"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tether_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		PruneCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tether_prune_commits_total",
				Help: "Total number of committed working-set prunes",
			},
		),

		PruneReclaimedTokens: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tether_prune_reclaimed_tokens_total",
				Help: "Estimated tokens reclaimed by pruning",
			},
		),

		DecisionFallbackCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tether_decision_fallbacks_total",
				Help: "Sessions flipped from structured to freeform decision decoding",
			},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		StoreQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tether_store_query_duration_seconds",
				Help:    "Duration of session store queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		StoreQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_store_queries_total",
				Help: "Total number of session store queries",
			},
			[]string{"operation", "status"},
		),
	}
}

// RunStarted increments the active runs gauge.
func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunFinished records the run outcome and decrements the active gauge.
func (m *Metrics) RunFinished(outcome string, durationSeconds float64) {
	m.ActiveRuns.Dec()
	m.RunCounter.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordModelRequest records metrics for a model API request.
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordModelRetry counts one retry attempt against a provider.
func (m *Metrics) RecordModelRetry(provider string) {
	m.ModelRetryCounter.WithLabelValues(provider).Inc()
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, code string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, code).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordPrune records a committed prune and its reclaimed token estimate.
func (m *Metrics) RecordPrune(reclaimedTokens int) {
	m.PruneCounter.Inc()
	if reclaimedTokens > 0 {
		m.PruneReclaimedTokens.Add(float64(reclaimedTokens))
	}
}

// RecordDecisionFallback counts a session flipping to freeform decoding.
func (m *Metrics) RecordDecisionFallback() {
	m.DecisionFallbackCounter.Inc()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordStoreQuery records metrics for a session store query.
func (m *Metrics) RecordStoreQuery(operation, status string, durationSeconds float64) {
	m.StoreQueryCounter.WithLabelValues(operation, status).Inc()
	m.StoreQueryDuration.WithLabelValues(operation).Observe(durationSeconds)
}
