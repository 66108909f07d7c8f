// Package xai implements the Provider interface for xAI's Grok models.
// The xAI API is Chat Completions compatible, so the adapter delegates to
// openaicompat.Client with xAI's endpoint and defaults.
package xai

import (
	"context"
	"time"

	"github.com/rhuss/chorus/pkg/provider"
	"github.com/rhuss/chorus/pkg/provider/openaicompat"
)

const (
	// DefaultBaseURL is the public xAI API endpoint.
	DefaultBaseURL = "https://api.x.ai"

	// DefaultModel is used for targets added without an explicit model.
	DefaultModel = "grok-2-1212"
)

// Config holds configuration for the xAI provider adapter.
type Config struct {
	// BaseURL overrides the API endpoint (default: https://api.x.ai).
	BaseURL string

	// Timeout for non-streaming HTTP requests. Defaults to 120s.
	Timeout time.Duration

	// Models restricts the models this provider accepts. Empty accepts any.
	Models []string
}

// Provider implements provider.Provider for xAI.
type Provider struct {
	client *openaicompat.Client
	caps   provider.ProviderCapabilities
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new xAI provider.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Provider{
		client: openaicompat.NewClient(cfg.BaseURL, cfg.Timeout),
		caps: provider.ProviderCapabilities{
			Streaming:       true,
			SupportedModels: cfg.Models,
		},
	}, nil
}

func (p *Provider) Name() string { return "xai" }

func (p *Provider) Capabilities() provider.ProviderCapabilities { return p.caps }

func (p *Provider) Complete(ctx context.Context, req *provider.ProviderRequest) (*provider.ProviderResponse, error) {
	return p.client.Complete(ctx, req)
}

func (p *Provider) Stream(ctx context.Context, req *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	return p.client.Stream(ctx, req)
}

func (p *Provider) ListModels(ctx context.Context, apiKey string) ([]provider.ModelInfo, error) {
	return p.client.ListModels(ctx, apiKey)
}

func (p *Provider) Close() error { return p.client.Close() }
