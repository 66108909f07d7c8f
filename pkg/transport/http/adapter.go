package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/catalog"
	"github.com/rhuss/chorus/pkg/credential"
	"github.com/rhuss/chorus/pkg/observability"
	"github.com/rhuss/chorus/pkg/transport"
	"github.com/rhuss/chorus/pkg/workspace"
)

// RoundService runs rounds and looks them up.
type RoundService interface {
	transport.RoundCreator
	GetRound(ctx context.Context, id string) (*api.RoundRecord, error)
	ListRounds(ctx context.Context, opts transport.ListOptions) (*transport.RoundList, error)
	DeleteRound(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
}

// TargetService manages the targets rounds are dispatched over.
type TargetService interface {
	Targets() []api.Target
	Target(id string) (api.Target, bool)
	Add(t api.Target) (api.Target, error)
	Update(id string, p workspace.Patch) (api.Target, error)
	Remove(id string) error
	Transcript(id string) ([]api.Message, error)
}

// ProviderCatalog lists the providers targets can be created for.
type ProviderCatalog interface {
	Providers() []catalog.Provider
}

// Services are the backends the adapter serves. Only Rounds is required;
// routes of a nil service are not registered.
type Services struct {
	Rounds      RoundService
	Targets     TargetService
	Catalog     ProviderCatalog
	Credentials credential.Store
	MCP         http.Handler
}

// Adapter serves the chorus API over HTTP.
// It routes requests to the appropriate service and serializes results.
type Adapter struct {
	creator  transport.RoundCreator
	svc      Services
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout int    // seconds
	MetricsPath     string // empty disables the Prometheus endpoint
	MCPPath         string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodySize:     1 << 20, // 1 MB
		ShutdownTimeout: 30,
		MetricsPath:     "/metrics",
		MCPPath:         "/mcp",
	}
}

// NewAdapter creates an HTTP adapter over svc. Middleware is applied to
// round submissions in the given order.
func NewAdapter(svc Services, cfg Config, middlewares ...transport.Middleware) *Adapter {
	var creator transport.RoundCreator = svc.Rounds
	if len(middlewares) > 0 {
		creator = transport.Chain(middlewares...)(creator)
	}

	a := &Adapter{
		creator:  creator,
		svc:      svc,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /v1/rounds", a.handleCreateRound)
	a.mux.HandleFunc("GET /v1/rounds", a.handleListRounds)
	a.mux.HandleFunc("GET /v1/rounds/{id}", a.handleGetRound)
	a.mux.HandleFunc("DELETE /v1/rounds/{id}", a.handleDeleteRound)
	a.mux.HandleFunc("GET /v1/ws", a.handleWebSocket)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)

	if svc.Targets != nil {
		a.mux.HandleFunc("GET /v1/targets", a.handleListTargets)
		a.mux.HandleFunc("POST /v1/targets", a.handleCreateTarget)
		a.mux.HandleFunc("GET /v1/targets/{id}", a.handleGetTarget)
		a.mux.HandleFunc("PATCH /v1/targets/{id}", a.handleUpdateTarget)
		a.mux.HandleFunc("DELETE /v1/targets/{id}", a.handleDeleteTarget)
		a.mux.HandleFunc("GET /v1/targets/{id}/transcript", a.handleTranscript)
	}
	if svc.Catalog != nil {
		a.mux.HandleFunc("GET /v1/providers", a.handleListProviders)
	}
	if svc.Credentials != nil {
		a.mux.HandleFunc("GET /v1/credentials", a.handleListCredentials)
		a.mux.HandleFunc("PUT /v1/credentials/{provider}", a.handlePutCredential)
		a.mux.HandleFunc("DELETE /v1/credentials/{provider}", a.handleDeleteCredential)
	}
	if cfg.MetricsPath != "" {
		a.mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}
	if svc.MCP != nil && cfg.MCPPath != "" {
		a.mux.Handle(cfg.MCPPath, svc.MCP)
	}

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler records
// request metrics and propagates request IDs.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(observability.MetricsMiddleware(a.mux))
}

// InFlight returns the registry of streaming rounds.
func (a *Adapter) InFlight() *transport.InFlightRegistry {
	return a.inflight
}

// httpRequestIDMiddleware is HTTP-level middleware that propagates the
// X-Request-ID header. A client-supplied ID is kept, otherwise a new one
// is generated. The ID travels in the request context and is echoed in
// the response headers before the first write.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = transport.NewRequestID()
		}
		r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets the WebSocket upgrade take over the connection.
func (w *requestIDResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// handleCreateRound handles POST /v1/rounds.
func (a *Adapter) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	var req api.CreateRoundRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	if req.Stream {
		a.handleStreamingRound(w, r, &req)
		return
	}

	rw := newSSERoundWriter(w, nil)
	if err := a.creator.CreateRound(r.Context(), &req, rw); err != nil {
		a.writeHandlerError(w, rw, err)
	}
}

// handleStreamingRound handles streaming POST requests (stream: true).
func (a *Adapter) handleStreamingRound(w http.ResponseWriter, r *http.Request, req *api.CreateRoundRequest) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var registeredID string
	rw := newSSERoundWriter(w, func(id string) {
		registeredID = id
		a.inflight.Register(id, cancel)
	})

	err := a.creator.CreateRound(ctx, req, rw)

	if registeredID != "" {
		a.inflight.Remove(registeredID)
	}
	if err != nil {
		a.writeHandlerError(w, rw, err)
	}
}

// handleGetRound handles GET /v1/rounds/{id}.
func (a *Adapter) handleGetRound(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.Rounds.GetRound(r.Context(), r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteRound handles DELETE /v1/rounds/{id}.
// It first checks the in-flight registry (for cancelling active streams),
// then falls through to the round service.
func (a *Adapter) handleDeleteRound(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateRoundID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed round ID"),
			http.StatusBadRequest,
		)
		return
	}

	if a.inflight.Cancel(id) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := a.svc.Rounds.DeleteRound(r.Context(), id); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListRounds handles GET /v1/rounds.
func (a *Adapter) handleListRounds(w http.ResponseWriter, r *http.Request) {
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteErrorResponse(w, apiErr, http.StatusBadRequest)
		return
	}

	result, err := a.svc.Rounds.ListRounds(r.Context(), opts)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleHealth handles GET /healthz.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Rounds.HealthCheck(r.Context()); err != nil {
		http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// handleListTargets handles GET /v1/targets.
func (a *Adapter) handleListTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listOf(a.svc.Targets.Targets()))
}

// handleCreateTarget handles POST /v1/targets.
func (a *Adapter) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var t api.Target
	if !a.decodeJSON(w, r, &t) {
		return
	}
	created, err := a.svc.Targets.Add(t)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleGetTarget handles GET /v1/targets/{id}.
func (a *Adapter) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, ok := a.svc.Targets.Target(id)
	if !ok {
		transport.WriteAPIError(w, api.NewNotFoundError(fmt.Sprintf("target %q not found", id)))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleUpdateTarget handles PATCH /v1/targets/{id}.
func (a *Adapter) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	var p workspace.Patch
	if !a.decodeJSON(w, r, &p) {
		return
	}
	t, err := a.svc.Targets.Update(r.PathValue("id"), p)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTarget handles DELETE /v1/targets/{id}.
func (a *Adapter) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Targets.Remove(r.PathValue("id")); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTranscript handles GET /v1/targets/{id}/transcript.
func (a *Adapter) handleTranscript(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.svc.Targets.Transcript(r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(msgs))
}

// providerView is a catalog entry as listed to clients.
type providerView struct {
	catalog.Provider
	HasCredential bool `json:"has_credential"`
}

// handleListProviders handles GET /v1/providers.
func (a *Adapter) handleListProviders(w http.ResponseWriter, r *http.Request) {
	configured := map[string]bool{}
	if a.svc.Credentials != nil {
		ids, err := a.svc.Credentials.Providers(r.Context())
		if err != nil {
			transport.WriteError(w, err)
			return
		}
		for _, id := range ids {
			configured[id] = true
		}
	}

	entries := a.svc.Catalog.Providers()
	views := make([]providerView, len(entries))
	for i, p := range entries {
		views[i] = providerView{Provider: p, HasCredential: configured[p.ID]}
	}
	writeJSON(w, http.StatusOK, listOf(views))
}

// handleListCredentials handles GET /v1/credentials. Only provider IDs
// are returned, never secrets.
func (a *Adapter) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	ids, err := a.svc.Credentials.Providers(r.Context())
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listOf(ids))
}

type putCredentialRequest struct {
	APIKey string `json:"api_key"`
}

// handlePutCredential handles PUT /v1/credentials/{provider}.
func (a *Adapter) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	var req putCredentialRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if req.APIKey == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("api_key", "api_key must not be empty"))
		return
	}
	providerID := r.PathValue("provider")
	if a.svc.Catalog != nil && !hasProvider(a.svc.Catalog, providerID) {
		transport.WriteAPIError(w, api.NewNotFoundError(fmt.Sprintf("provider %q not found", providerID)))
		return
	}
	if err := a.svc.Credentials.Put(r.Context(), providerID, req.APIKey); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteCredential handles DELETE /v1/credentials/{provider}.
func (a *Adapter) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Credentials.Delete(r.Context(), r.PathValue("provider")); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func hasProvider(c ProviderCatalog, id string) bool {
	for _, p := range c.Providers() {
		if p.ID == id {
			return true
		}
	}
	return false
}

// list is the envelope of every collection response.
type list[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

func listOf[T any](items []T) list[T] {
	if items == nil {
		items = []T{}
	}
	return list[T]{Object: "list", Data: items}
}

// decodeJSON reads a size-limited JSON body into v. On failure it writes
// the error response and returns false.
func (a *Adapter) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return false
	}
	return true
}

// parseListOptions extracts pagination parameters from query string.
func parseListOptions(r *http.Request) (transport.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After:  q.Get("after"),
		Before: q.Get("before"),
		Order:  q.Get("order"),
	}

	if opts.After != "" && opts.Before != "" {
		return opts, api.NewInvalidRequestError("after", "cannot use both 'after' and 'before' cursors")
	}

	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return opts, api.NewInvalidRequestError("order", "order must be 'asc' or 'desc'")
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = limit
	}

	return opts, nil
}

// writeHandlerError writes an error from a round submission. If streaming
// has already started, it sends an error event. Otherwise it writes a
// standard JSON error response.
func (a *Adapter) writeHandlerError(w http.ResponseWriter, rw *sseRoundWriter, err error) {
	apiErr := transport.AsAPIError(err)

	if rw.hasStartedStreaming() {
		rw.WriteEvent(context.Background(), api.RoundEvent{
			Type:  api.EventRoundError,
			Error: apiErr,
		})
		return
	}

	transport.WriteAPIError(w, apiErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
