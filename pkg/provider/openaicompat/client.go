package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/debug"
	"github.com/rhuss/chorus/pkg/provider"
)

// DefaultTimeout applies to non-streaming requests when none is configured.
const DefaultTimeout = 120 * time.Second

const (
	chatPath   = "/v1/chat/completions"
	modelsPath = "/v1/models"
)

// Client talks to one Chat Completions backend. The API key travels with
// each request, so a single Client serves every branch that targets the
// provider.
type Client struct {
	baseURL string

	// unary carries the configured timeout. stream shares its transport
	// but has no timeout; a branch stream ends with its round's context.
	unary  *http.Client
	stream *http.Client

	// ModelMapper, when set, rewrites the model name sent to the backend.
	ModelMapper func(string) string
}

// NewClient creates a Client for baseURL. A zero timeout means
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		unary:   &http.Client{Transport: transport, Timeout: timeout},
		stream:  &http.Client{Transport: transport},
	}
}

// BaseURL returns the normalized backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Complete requests a whole answer in one response.
func (c *Client) Complete(ctx context.Context, req *provider.ProviderRequest) (*provider.ProviderResponse, error) {
	body, err := c.chatBody(req, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, c.unary, http.MethodPost, chatPath, req.APIKey, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, api.NewProtocolError(fmt.Sprintf("failed to parse backend response: %s", err.Error()))
	}
	return TranslateResponse(&chatResp)
}

// Stream requests an SSE answer and returns its fragments on a channel
// that is closed after the terminal event. HTTP errors before the first
// byte are returned directly so the branch fails without a stream.
func (c *Client) Stream(ctx context.Context, req *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	body, err := c.chatBody(req, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, c.stream, http.MethodPost, chatPath, req.APIKey, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan provider.ProviderEvent, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		ParseSSEStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// ListModels queries /v1/models with apiKey.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]provider.ModelInfo, error) {
	resp, err := c.do(ctx, c.unary, http.MethodGet, modelsPath, apiKey, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var modelsResp ChatModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, api.NewProtocolError(fmt.Sprintf("failed to parse models response: %s", err.Error()))
	}

	models := make([]provider.ModelInfo, 0, len(modelsResp.Data))
	for _, m := range modelsResp.Data {
		models = append(models, provider.ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return models, nil
}

// Close drops idle connections.
func (c *Client) Close() error {
	c.unary.CloseIdleConnections()
	return nil
}

// chatBody encodes req as a Chat Completions request without modifying
// req.
func (c *Client) chatBody(req *provider.ProviderRequest, stream bool) ([]byte, error) {
	r := *req
	r.Stream = stream
	if c.ModelMapper != nil {
		r.Model = c.ModelMapper(r.Model)
	}
	body, err := json.Marshal(TranslateToChat(&r))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}
	debug.Log("providers", "chat completions request",
		"url", c.baseURL+chatPath, "model", r.Model, "messages", len(r.Messages), "stream", stream)
	return body, nil
}

// do sends one request and returns the response when its status is 2xx.
// Network failures map to transport_error and non-2xx statuses to
// backend_rejected.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path, apiKey string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if hc == c.stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, provider.MapNetworkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, MapHTTPError(resp)
	}
	return resp, nil
}
