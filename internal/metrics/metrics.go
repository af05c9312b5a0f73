// Package metrics exposes the Prometheus instruments shared by the
// server and the worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument on one registry so tests can build
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal       *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	ActiveJobs       prometheus.Gauge
	ToolInvocations  *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	ModelCalls       *prometheus.CounterVec
	ModelTokens      *prometheus.CounterVec
	Interrupts       *prometheus.CounterVec
	Handoffs         *prometheus.CounterVec
	SandboxSessions  prometheus.Gauge
	EventsPublished  *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	RateLimitRejects prometheus.Counter
}

// New builds the instrument set on a fresh registry with the standard
// process and Go collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperagent_tasks_total",
			Help: "Tasks finished, by terminal status.",
		}, []string{"status"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperagent_task_duration_seconds",
			Help:    "Wall time of finished tasks.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hyperagent_active_jobs",
			Help: "Jobs currently running on this worker.",
		}),
		ToolInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperagent_tool_invocations_total",
			Help: "Tool executions, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hyperagent_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"tool"}),
		ModelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperagent_model_calls_total",
			Help: "Model completions, by model and outcome.",
		}, []string{"model", "outcome"}),
		ModelTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperagent_model_tokens_total",
			Help: "Tokens consumed, split by prompt and completion.",
		}, []string{"model", "kind"}),
		Interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperagent_interrupts_total",
			Help: "Human-in-the-loop responses, by action.",
		}, []string{"action"}),
		Handoffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperagent_handoffs_total",
			Help: "Agent handoffs, by source and target.",
		}, []string{"source", "target"}),
		SandboxSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hyperagent_sandbox_sessions",
			Help: "Live sandbox sessions across all managers.",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperagent_events_published_total",
			Help: "Events published to the bus, by type.",
		}, []string{"type"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyperagent_http_requests_total",
			Help: "HTTP requests, by route and status class.",
		}, []string{"route", "status"}),
		RateLimitRejects: factory.NewCounter(prometheus.CounterOpts{
			Name: "hyperagent_rate_limit_rejects_total",
			Help: "Requests rejected by the sliding-window limiter.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
