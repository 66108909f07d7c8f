// Package anthropic implements the Provider interface for the Anthropic
// Messages API. Streaming uses named SSE events (message_start,
// content_block_delta, message_delta, message_stop, error); system prompts
// are carried out of band in the request's system field.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/debug"
	"github.com/rhuss/chorus/pkg/provider"
	"github.com/rhuss/chorus/pkg/provider/sse"
)

const (
	// DefaultBaseURL is the public Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultModel is used for targets added without an explicit model.
	DefaultModel = "claude-3-5-sonnet-20240620"

	// APIVersion is sent in the anthropic-version header.
	APIVersion = "2023-06-01"

	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Config holds configuration for the Anthropic provider adapter.
type Config struct {
	// BaseURL overrides the API endpoint.
	BaseURL string

	// Timeout for non-streaming HTTP requests. Defaults to 120s.
	Timeout time.Duration

	// MaxTokens is sent when the request carries no limit. The Messages API
	// requires one. Defaults to 4096.
	MaxTokens int

	// Models restricts the models this provider accepts. Empty accepts any.
	Models []string
}

// Provider implements provider.Provider for Anthropic.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	baseURL    string
	caps       provider.ProviderCapabilities
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Anthropic provider.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		caps: provider.ProviderCapabilities{
			Streaming:       true,
			SupportedModels: cfg.Models,
		},
	}, nil
}

// Name returns the provider type identifier.
func (p *Provider) Name() string {
	return "anthropic"
}

// Capabilities returns what this provider supports.
func (p *Provider) Capabilities() provider.ProviderCapabilities {
	return p.caps
}

// Complete performs non-streaming inference against /v1/messages.
func (p *Provider) Complete(ctx context.Context, req *provider.ProviderRequest) (*provider.ProviderResponse, error) {
	httpReq, err := p.newMessagesRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var msg MessagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&msg); err != nil {
		return nil, api.NewProtocolError(fmt.Sprintf("failed to parse backend response: %s", err.Error()))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &provider.ProviderResponse{
		Text:         text.String(),
		Model:        msg.Model,
		FinishReason: msg.StopReason,
		Usage:        translateUsage(msg.Usage),
	}, nil
}

// Stream performs streaming inference against /v1/messages.
func (p *Provider) Stream(ctx context.Context, req *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	httpReq, err := p.newMessagesRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	// The context controls the request lifetime, not the client timeout.
	streamClient := &http.Client{Transport: p.httpClient.Transport}

	httpResp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, provider.MapNetworkError(err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, mapHTTPError(httpResp)
	}

	ch := make(chan provider.ProviderEvent, 16)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()
		parseStream(ctx, httpResp.Body, ch)
	}()
	return ch, nil
}

// ListModels returns the models visible to apiKey.
func (p *Provider) ListModels(ctx context.Context, apiKey string) ([]provider.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	setHeaders(httpReq, apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.MapNetworkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, mapHTTPError(httpResp)
	}

	var models ModelsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&models); err != nil {
		return nil, api.NewProtocolError(fmt.Sprintf("failed to parse models response: %s", err.Error()))
	}

	out := make([]provider.ModelInfo, 0, len(models.Data))
	for _, m := range models.Data {
		out = append(out, provider.ModelInfo{ID: m.ID, DisplayName: m.DisplayName, OwnedBy: "anthropic"})
	}
	return out, nil
}

// Close releases provider resources.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *Provider) newMessagesRequest(ctx context.Context, req *provider.ProviderRequest, stream bool) (*http.Request, error) {
	system, rest := provider.SplitSystem(req.Messages)

	body := MessagesRequest{
		Model:       req.Model,
		System:      system,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
	}
	for _, m := range rest {
		body.Messages = append(body.Messages, Message{Role: m.Role, Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	url := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setHeaders(httpReq, req.APIKey)

	debug.Log("providers", "anthropic messages request",
		"url", url, "model", req.Model, "messages", len(body.Messages), "stream", stream)

	return httpReq, nil
}

func setHeaders(r *http.Request, apiKey string) {
	r.Header.Set("anthropic-version", APIVersion)
	if apiKey != "" {
		r.Header.Set("x-api-key", apiKey)
	}
}

// parseStream translates Messages API stream events into ProviderEvents.
func parseStream(ctx context.Context, body io.Reader, ch chan<- provider.ProviderEvent) {
	var (
		usage      api.Usage
		stopReason string
		stopped    bool
	)

	err := sse.Scan(ctx, body, func(ev sse.Event) error {
		var payload StreamEvent
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			slog.Warn("malformed anthropic stream event",
				"event", ev.Name,
				"error", err.Error(),
				"data", provider.Truncate(ev.Data, 200),
			)
			return api.NewProtocolError("malformed stream event: " + err.Error())
		}

		kind := ev.Name
		if kind == "" {
			kind = payload.Type
		}

		switch kind {
		case "message_start":
			if payload.Message != nil {
				usage.InputTokens = payload.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if payload.Delta != nil && payload.Delta.Text != "" {
				provider.Emit(ctx, ch, provider.ProviderEvent{
					Type:  provider.ProviderEventTextDelta,
					Delta: payload.Delta.Text,
				})
			}
		case "message_delta":
			if payload.Delta != nil {
				stopReason = payload.Delta.StopReason
			}
			if payload.Usage != nil {
				usage.OutputTokens = payload.Usage.OutputTokens
			}
		case "message_stop":
			stopped = true
			return sse.ErrStop
		case "error":
			msg := "stream error"
			if payload.Error != nil && payload.Error.Message != "" {
				msg = payload.Error.Message
			}
			return api.NewBackendRejectedError(0, msg)
		}
		// ping and content_block_start/stop carry nothing we need.
		return nil
	})

	if ctx.Err() != nil {
		return
	}
	if err == nil && !stopped {
		err = api.NewProtocolError("stream ended before message_stop")
	}
	if err != nil {
		var apiErr *api.APIError
		if !errors.As(err, &apiErr) {
			err = api.NewTransportError("SSE stream read error: " + err.Error())
		}
		provider.Emit(ctx, ch, provider.ProviderEvent{Type: provider.ProviderEventError, Err: err})
		return
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	provider.Emit(ctx, ch, provider.ProviderEvent{
		Type:         provider.ProviderEventTextDone,
		FinishReason: stopReason,
		Usage:        &usage,
	})
}

func mapHTTPError(resp *http.Response) *api.APIError {
	return provider.MapHTTPError(resp, func(data []byte) string {
		var errResp ErrorResponse
		if err := json.Unmarshal(data, &errResp); err == nil {
			return errResp.Error.Message
		}
		return ""
	})
}

func translateUsage(u Usage) api.Usage {
	return api.Usage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.InputTokens + u.OutputTokens,
	}
}
