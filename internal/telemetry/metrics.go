// Package telemetry carries the serving-side observability of the MCP
// server: per-tool Prometheus metrics, invocation ids and the optional
// OTLP trace exporter.
package telemetry

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-tool Prometheus metrics of the MCP server.
type Metrics struct {
	InvocationsTotal *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	Duration         *prometheus.HistogramVec
}

// NewMetrics creates and registers the tool metrics. The registerer
// parameter allows flexible registration (global registry in the
// server, a private registry in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	invocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hindsight_tool_invocations_total",
		Help: "Total number of tool invocations",
	}, []string{"tool"})

	errors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hindsight_tool_errors_total",
		Help: "Total number of failed tool invocations",
	}, []string{"tool"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hindsight_tool_duration_seconds",
		Help:    "Tool execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	reg.MustRegister(invocations, errors, duration)

	return &Metrics{
		InvocationsTotal: invocations,
		ErrorsTotal:      errors,
		Duration:         duration,
	}
}

// ObserveInvocation records one tool call. A nil receiver is a no-op so
// callers need no enabled check.
func (m *Metrics) ObserveInvocation(tool string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(tool).Inc()
	m.Duration.WithLabelValues(tool).Observe(elapsed.Seconds())
	if err != nil {
		m.ErrorsTotal.WithLabelValues(tool).Inc()
	}
}

// NewInvocationID returns a unique id for one tool invocation, used to
// correlate log lines, metrics and spans.
func NewInvocationID() string {
	return uuid.NewString()
}
