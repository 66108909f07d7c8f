package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// TestMetricsRegistered verifies that all metrics are registered in the
// default registry.
func TestMetricsRegistered(t *testing.T) {
	// Vectors only appear after their first observation.
	RequestsTotal.WithLabelValues("GET", "/v1/targets", "2xx").Inc()
	RequestDuration.WithLabelValues("GET", "/v1/targets").Observe(0.1)
	RoundsTotal.WithLabelValues("completed").Add(0)
	BranchesTotal.WithLabelValues("openai", "gpt-4o", "succeeded").Add(0)
	BranchLatency.WithLabelValues("openai", "gpt-4o").Observe(0.1)
	BranchFragmentsTotal.WithLabelValues("openai").Add(0)
	ProviderTokensTotal.WithLabelValues("openai", "gpt-4o", "input").Add(0)
	SynthesisTotal.WithLabelValues("succeeded").Add(0)
	CatalogReloadsTotal.WithLabelValues("ok").Add(0)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"chorus_requests_total":               false,
		"chorus_request_duration_seconds":     false,
		"chorus_streaming_connections_active": false,
		"chorus_rounds_total":                 false,
		"chorus_rounds_inflight":              false,
		"chorus_branches_total":               false,
		"chorus_branch_latency_seconds":       false,
		"chorus_branch_fragments_total":       false,
		"chorus_provider_tokens_total":        false,
		"chorus_synthesis_total":              false,
		"chorus_catalog_reloads_total":        false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not found in default registry", name)
		}
	}
}

func TestRecordBranch(t *testing.T) {
	beforeBranches := counterValue(t, BranchesTotal, "xai", "grok-2-1212", "failed")
	beforeLatency := histogramCount(t, BranchLatency, "xai", "grok-2-1212")
	beforeOut := counterValue(t, ProviderTokensTotal, "xai", "grok-2-1212", "output")

	RecordBranch("xai", "grok-2-1212", "failed", 250*time.Millisecond, 0, 7)

	if d := counterValue(t, BranchesTotal, "xai", "grok-2-1212", "failed") - beforeBranches; d != 1 {
		t.Errorf("branches delta = %f, want 1", d)
	}
	if d := histogramCount(t, BranchLatency, "xai", "grok-2-1212") - beforeLatency; d != 1 {
		t.Errorf("latency samples delta = %d, want 1", d)
	}
	if d := counterValue(t, ProviderTokensTotal, "xai", "grok-2-1212", "output") - beforeOut; d != 7 {
		t.Errorf("output tokens delta = %f, want 7", d)
	}
}

// routedHandler serves status on pattern through MetricsMiddleware, the
// way the HTTP adapter mounts its mux.
func routedHandler(pattern string, status int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	return MetricsMiddleware(mux)
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		method  string
		path    string
		status  int
		route   string
		class   string
	}{
		{"archived round", "GET /v1/rounds/{id}", "GET", "/v1/rounds/round_abc", http.StatusOK, "/v1/rounds/{id}", "2xx"},
		{"bad submission", "POST /v1/rounds", "POST", "/v1/rounds", http.StatusBadRequest, "/v1/rounds", "4xx"},
		{"unknown path", "GET /healthz", "GET", "/nope/123", http.StatusNotFound, unmatchedRoute, "4xx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := counterValue(t, RequestsTotal, tt.method, tt.route, tt.class)
			beforeObs := histogramCount(t, RequestDuration, tt.method, tt.route)

			rec := httptest.NewRecorder()
			routedHandler(tt.pattern, tt.status).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if d := counterValue(t, RequestsTotal, tt.method, tt.route, tt.class) - before; d != 1 {
				t.Errorf("requests delta = %f, want 1", d)
			}
			if d := histogramCount(t, RequestDuration, tt.method, tt.route) - beforeObs; d != 1 {
				t.Errorf("duration samples delta = %d, want 1", d)
			}
		})
	}
}

// TestMiddlewareStreamingGauge verifies that the streaming connections gauge
// is raised for SSE and WebSocket requests while they are served.
func TestMiddlewareStreamingGauge(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"sse", "Accept", "text/event-stream"},
		{"websocket", "Upgrade", "websocket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseline := gaugeValue(t, StreamingConnections)

			inHandler := make(chan float64, 1)
			handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inHandler <- gaugeValue(t, StreamingConnections)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("POST", "/v1/rounds", nil)
			req.Header.Set(tt.header, tt.value)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if during := <-inHandler; during != baseline+1 {
				t.Errorf("expected streaming gauge=%f during request, got %f", baseline+1, during)
			}
			if after := gaugeValue(t, StreamingConnections); after != baseline {
				t.Errorf("expected streaming gauge=%f after request, got %f", baseline, after)
			}
		})
	}
}

// TestStatusWriterFlush verifies that Flush reaches the underlying writer.
func TestStatusWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	sw.Flush()

	if !rec.Flushed {
		t.Error("expected underlying writer to be flushed")
	}
}

// counterValue reads the current value of a CounterVec for the given labels.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// histogramCount reads the observation count from a HistogramVec.
func histogramCount(t *testing.T, hv *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	obs, err := hv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting histogram metric: %v", err)
	}
	if err := obs.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing histogram metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

// gaugeValue reads the current value of a Gauge.
func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("writing gauge metric: %v", err)
	}
	return m.GetGauge().GetValue()
}
