package openai

import (
	"context"

	"github.com/rhuss/chorus/pkg/provider"
	"github.com/rhuss/chorus/pkg/provider/openaicompat"
)

// Provider implements provider.Provider for the OpenAI Chat Completions API.
type Provider struct {
	cfg    Config
	client *openaicompat.Client
	caps   provider.ProviderCapabilities
}

// Ensure Provider implements provider.Provider at compile time.
var _ provider.Provider = (*Provider)(nil)

// New creates a new OpenAI provider with the given configuration.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	client := openaicompat.NewClient(cfg.BaseURL, cfg.Timeout)

	// If model mapping is configured, set a mapper on the client.
	if len(cfg.ModelMapping) > 0 {
		mapping := cfg.ModelMapping
		client.ModelMapper = func(model string) string {
			if mapped, ok := mapping[model]; ok {
				return mapped
			}
			return model
		}
	}

	return &Provider{
		cfg:    cfg,
		client: client,
		caps: provider.ProviderCapabilities{
			Streaming:       true,
			SupportedModels: cfg.Models,
		},
	}, nil
}

// Name returns the provider type identifier.
func (p *Provider) Name() string {
	return "openai"
}

// Capabilities returns what this provider supports.
func (p *Provider) Capabilities() provider.ProviderCapabilities {
	return p.caps
}

// Complete performs non-streaming inference against the Chat Completions endpoint.
func (p *Provider) Complete(ctx context.Context, req *provider.ProviderRequest) (*provider.ProviderResponse, error) {
	return p.client.Complete(ctx, req)
}

// Stream performs streaming inference against the Chat Completions endpoint.
func (p *Provider) Stream(ctx context.Context, req *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	return p.client.Stream(ctx, req)
}

// ListModels returns available models by querying the /v1/models endpoint.
func (p *Provider) ListModels(ctx context.Context, apiKey string) ([]provider.ModelInfo, error) {
	return p.client.ListModels(ctx, apiKey)
}

// Close releases provider resources.
func (p *Provider) Close() error {
	return p.client.Close()
}
