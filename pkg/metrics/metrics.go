// Package metrics exposes Prometheus collectors for the query engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nlq"

// Metrics holds the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	QueryTotal    *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	GatewayState  *prometheus.CounterVec
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	RowsReturned  prometheus.Histogram
	Rejections    *prometheus.CounterVec
	ToolCalls     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Questions answered, by outcome and source",
			},
			[]string{"outcome", "source"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "End-to-end question processing duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"shape"},
		),
		GatewayState: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_terminal_state_total",
				Help:      "Execution gateway terminal states",
			},
			[]string{"state"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Answer cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Answer cache misses",
		}),
		RowsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rows_returned",
			Help:      "Rows returned per answered question",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
		}),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Rejected executions by reason",
			},
			[]string{"reason"},
		),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mcp_tool_calls_total",
				Help:      "MCP tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
	}

	reg.MustRegister(
		m.QueryTotal,
		m.QueryDuration,
		m.GatewayState,
		m.CacheHits,
		m.CacheMisses,
		m.RowsReturned,
		m.Rejections,
		m.ToolCalls,
	)
	return m
}

// ObserveQuery records one finished question. outcome is "success" or an error kind.
func (m *Metrics) ObserveQuery(outcome, source, shape string, rows int, d time.Duration) {
	if m == nil {
		return
	}
	if shape == "" {
		shape = "unknown"
	}
	m.QueryTotal.WithLabelValues(outcome, source).Inc()
	m.QueryDuration.WithLabelValues(shape).Observe(d.Seconds())
	if outcome == "success" {
		m.RowsReturned.Observe(float64(rows))
	}
}

// ObserveGateway records the gateway's terminal state: privileged, degraded or rejected.
func (m *Metrics) ObserveGateway(state string) {
	if m == nil {
		return
	}
	m.GatewayState.WithLabelValues(state).Inc()
}

// ObserveRejection records a rejected execution by reason.
func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// ObserveTool records one MCP tool call. outcome is "ok", "tool_error" or "error".
func (m *Metrics) ObserveTool(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
