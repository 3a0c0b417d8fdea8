package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "p4mcp"

// Metrics holds the server's prometheus collectors.
type Metrics struct {
	ToolCalls      *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec
	CacheRefreshes *prometheus.CounterVec
	Reconnects     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome status.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		CacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "property_cache_refreshes_total",
			Help:      "Server property cache refreshes by result.",
		}, []string{"result"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backend_reconnects_total",
			Help:      "Backend connection attempts by result.",
		}, []string{"result"}),
		gatherer: registry,
	}
	registry.MustRegister(
		m.ToolCalls,
		m.ToolDuration,
		m.CacheRefreshes,
		m.Reconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveToolCall records one finished tool call. A nil Metrics is a no-op.
func (m *Metrics) ObserveToolCall(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}
