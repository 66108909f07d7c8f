package observability

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// unmatchedRoute labels requests no route pattern claimed, which keeps
// arbitrary client paths out of the label space.
const unmatchedRoute = "unmatched"

// MetricsMiddleware records chorus_requests_total and
// chorus_request_duration_seconds per method and route, and holds
// chorus_streaming_connections_active up while an SSE stream or WebSocket
// is open.
//
// The route label is the ServeMux pattern that served the request, read
// after next returns, so next must be (or wrap) the mux itself.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if isStreamingRequest(r) {
			StreamingConnections.Inc()
			defer StreamingConnections.Dec()
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := routeOf(r)
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status/100)+"xx").Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// routeOf returns the path part of the pattern that matched r, for
// example "/v1/rounds/{id}" for "GET /v1/rounds/{id}".
func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return unmatchedRoute
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

// isStreamingRequest reports SSE requests (by Accept) and WebSocket
// upgrades.
func isStreamingRequest(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") ||
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// statusWriter captures the response status. It forwards Flush for SSE
// and Hijack for WebSocket upgrades.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.written = true
	w.status = http.StatusSwitchingProtocols
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
