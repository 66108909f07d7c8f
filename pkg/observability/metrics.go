// Package observability provides Prometheus metrics, OpenTelemetry tracing
// setup and HTTP middleware for monitoring the chorus server.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by method, route pattern and
	// status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration by method and route.
	// Streaming rounds last as long as their slowest branch plus synthesis.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chorus_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks active SSE and WebSocket connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chorus_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// RoundsTotal counts finished dispatch rounds by outcome
	// (completed, cancelled).
	RoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_rounds_total",
			Help: "Dispatch rounds",
		},
		[]string{"outcome"},
	)

	// RoundsInFlight tracks rounds that have not finished yet.
	RoundsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chorus_rounds_inflight",
			Help: "Dispatch rounds in flight",
		},
	)

	// BranchesTotal counts settled branches by provider, model and status.
	BranchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_branches_total",
			Help: "Settled branches",
		},
		[]string{"provider", "model", "status"},
	)

	// BranchLatency records time from branch start to its terminal outcome.
	BranchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chorus_branch_latency_seconds",
			Help:    "Branch latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// BranchFragmentsTotal counts text fragments relayed to placeholders.
	BranchFragmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_branch_fragments_total",
			Help: "Relayed text fragments",
		},
		[]string{"provider"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// SynthesisTotal counts synthesis branches by status.
	SynthesisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_synthesis_total",
			Help: "Synthesis branches",
		},
		[]string{"status"},
	)

	// CatalogReloadsTotal counts catalog reload attempts by result.
	CatalogReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chorus_catalog_reloads_total",
			Help: "Catalog reloads",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		RoundsTotal,
		RoundsInFlight,
		BranchesTotal,
		BranchLatency,
		BranchFragmentsTotal,
		ProviderTokensTotal,
		SynthesisTotal,
		CatalogReloadsTotal,
	)
}

// RecordBranch records the metrics of one settled branch.
func RecordBranch(providerID, model, status string, duration time.Duration, inputTokens, outputTokens int) {
	BranchesTotal.WithLabelValues(providerID, model, status).Inc()
	BranchLatency.WithLabelValues(providerID, model).Observe(duration.Seconds())
	if inputTokens > 0 {
		ProviderTokensTotal.WithLabelValues(providerID, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		ProviderTokensTotal.WithLabelValues(providerID, model, "output").Add(float64(outputTokens))
	}
}
