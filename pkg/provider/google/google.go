// Package google implements the Provider interface for the Gemini
// generateContent API. Streaming uses streamGenerateContent with alt=sse,
// where every SSE data line carries a complete GenerateContentResponse
// chunk and the stream ends without a sentinel.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/debug"
	"github.com/rhuss/chorus/pkg/provider"
	"github.com/rhuss/chorus/pkg/provider/sse"
)

const (
	// DefaultBaseURL is the public Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultModel is used for targets added without an explicit model.
	DefaultModel = "gemini-pro"

	defaultTimeout = 120 * time.Second
)

// blockedReasons are finish reasons that mean the backend refused to answer.
var blockedReasons = []string{"SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII"}

// Config holds configuration for the Google provider adapter.
type Config struct {
	// BaseURL overrides the API endpoint.
	BaseURL string

	// Timeout for non-streaming HTTP requests. Defaults to 120s.
	Timeout time.Duration

	// Models restricts the models this provider accepts. Empty accepts any.
	Models []string
}

// Provider implements provider.Provider for Gemini.
type Provider struct {
	httpClient *http.Client
	baseURL    string
	caps       provider.ProviderCapabilities
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Google provider.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Provider{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		caps: provider.ProviderCapabilities{
			Streaming:       true,
			WebSearch:       true,
			SupportedModels: cfg.Models,
		},
	}, nil
}

// Name returns the provider type identifier.
func (p *Provider) Name() string {
	return "google"
}

// Capabilities returns what this provider supports.
func (p *Provider) Capabilities() provider.ProviderCapabilities {
	return p.caps
}

// Complete performs non-streaming inference via generateContent.
func (p *Provider) Complete(ctx context.Context, req *provider.ProviderRequest) (*provider.ProviderResponse, error) {
	httpReq, err := p.newGenerateRequest(ctx, req, "generateContent")
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

	var resp GenerateContentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, api.NewProtocolError(fmt.Sprintf("failed to parse backend response: %s", err.Error()))
	}
	if err := checkBlocked(&resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, api.NewProtocolError("backend returned no candidates")
	}

	out := &provider.ProviderResponse{
		Text:         candidateText(resp.Candidates[0]),
		Model:        req.Model,
		FinishReason: resp.Candidates[0].FinishReason,
	}
	if resp.UsageMetadata != nil {
		out.Usage = translateUsage(resp.UsageMetadata)
	}
	return out, nil
}

// Stream performs streaming inference via streamGenerateContent.
func (p *Provider) Stream(ctx context.Context, req *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	httpReq, err := p.newGenerateRequest(ctx, req, "streamGenerateContent")
	if err != nil {
		return nil, err
	}
	q := httpReq.URL.Query()
	q.Set("alt", "sse")
	httpReq.URL.RawQuery = q.Encode()
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

// ListModels returns the models visible to apiKey that support text
// generation.
func (p *Provider) ListModels(ctx context.Context, apiKey string) ([]provider.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1beta/models", nil)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	if apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", apiKey)
	}

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

	out := make([]provider.ModelInfo, 0, len(models.Models))
	for _, m := range models.Models {
		if len(m.SupportedGenerationMethods) > 0 && !slices.Contains(m.SupportedGenerationMethods, "generateContent") {
			continue
		}
		out = append(out, provider.ModelInfo{
			ID:          strings.TrimPrefix(m.Name, "models/"),
			DisplayName: m.DisplayName,
			OwnedBy:     "google",
		})
	}
	return out, nil
}

// Close releases provider resources.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *Provider) newGenerateRequest(ctx context.Context, req *provider.ProviderRequest, method string) (*http.Request, error) {
	body := TranslateRequest(req)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to marshal request: %s", err.Error()))
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s", p.baseURL, url.PathEscape(req.Model), method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, api.NewServerError(fmt.Sprintf("failed to create HTTP request: %s", err.Error()))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("x-goog-api-key", req.APIKey)
	}

	debug.Log("providers", "google generate request",
		"url", endpoint, "model", req.Model, "contents", len(body.Contents), "search", req.WebSearch)

	return httpReq, nil
}

// TranslateRequest converts a ProviderRequest into a Gemini request body.
// System messages become the system instruction and assistant turns use
// the "model" role.
func TranslateRequest(req *provider.ProviderRequest) *GenerateContentRequest {
	system, rest := provider.SplitSystem(req.Messages)

	body := &GenerateContentRequest{}
	if system != "" {
		body.SystemInstruction = &Content{Parts: []Part{{Text: system}}}
	}
	for _, m := range rest {
		role := "user"
		if m.Role == string(api.RoleAssistant) {
			role = "model"
		}
		body.Contents = append(body.Contents, Content{Role: role, Parts: []Part{{Text: m.Content}}})
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		body.GenerationConfig = &GenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	if req.WebSearch {
		body.Tools = []Tool{{GoogleSearch: &struct{}{}}}
	}
	return body
}

// parseStream translates streamed GenerateContentResponse chunks into
// ProviderEvents. A stream that ends without any finish reason was cut off.
func parseStream(ctx context.Context, body io.Reader, ch chan<- provider.ProviderEvent) {
	var (
		usage        *api.Usage
		finishReason string
	)

	err := sse.Scan(ctx, body, func(ev sse.Event) error {
		var chunk GenerateContentResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			slog.Warn("malformed gemini stream chunk",
				"error", err.Error(),
				"data", provider.Truncate(ev.Data, 200),
			)
			return api.NewProtocolError("malformed stream chunk: " + err.Error())
		}
		if chunk.Error != nil {
			return api.NewBackendRejectedError(chunk.Error.Code, chunk.Error.Message)
		}
		if err := checkBlocked(&chunk); err != nil {
			return err
		}
		if chunk.UsageMetadata != nil {
			u := translateUsage(chunk.UsageMetadata)
			usage = &u
		}
		if len(chunk.Candidates) == 0 {
			return nil
		}

		c := chunk.Candidates[0]
		if text := candidateText(c); text != "" {
			provider.Emit(ctx, ch, provider.ProviderEvent{
				Type:  provider.ProviderEventTextDelta,
				Delta: text,
			})
		}
		if c.FinishReason != "" {
			finishReason = c.FinishReason
		}
		return nil
	})

	if ctx.Err() != nil {
		return
	}
	if err == nil && finishReason == "" {
		err = api.NewProtocolError("stream ended without a finish reason")
	}
	if err != nil {
		var apiErr *api.APIError
		if !errors.As(err, &apiErr) {
			err = api.NewTransportError("SSE stream read error: " + err.Error())
		}
		provider.Emit(ctx, ch, provider.ProviderEvent{Type: provider.ProviderEventError, Err: err})
		return
	}

	provider.Emit(ctx, ch, provider.ProviderEvent{
		Type:         provider.ProviderEventTextDone,
		FinishReason: finishReason,
		Usage:        usage,
	})
}

// checkBlocked reports a prompt or candidate the backend refused to answer.
func checkBlocked(resp *GenerateContentResponse) error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return api.NewBackendRejectedError(0, "prompt blocked: "+resp.PromptFeedback.BlockReason)
	}
	for _, c := range resp.Candidates {
		if slices.Contains(blockedReasons, c.FinishReason) {
			return api.NewBackendRejectedError(0, "response blocked: "+c.FinishReason)
		}
	}
	return nil
}

func candidateText(c Candidate) string {
	var b strings.Builder
	for _, part := range c.Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
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

func translateUsage(u *UsageMetadata) api.Usage {
	total := u.TotalTokenCount
	if total == 0 {
		total = u.PromptTokenCount + u.CandidatesTokenCount
	}
	return api.Usage{
		InputTokens:  u.PromptTokenCount,
		OutputTokens: u.CandidatesTokenCount,
		TotalTokens:  total,
	}
}
