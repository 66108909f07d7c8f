package provider

import (
	"context"
)

// Provider abstracts one family of LLM backends (OpenAI, Anthropic, ...).
// Each adapter handles its own wire protocol internally. The credential is
// supplied per call in ProviderRequest.APIKey; adapters never read it from
// the process environment.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Provider interface {
	// Name returns the provider type identifier (e.g., "openai", "anthropic").
	Name() string

	// Capabilities returns what this provider supports.
	Capabilities() ProviderCapabilities

	// Complete performs non-streaming inference and returns the final text
	// as one blob.
	Complete(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error)

	// Stream performs streaming inference. The returned channel receives
	// ProviderEvent values and is closed by the provider when the stream
	// completes, errors, or the context is cancelled.
	Stream(ctx context.Context, req *ProviderRequest) (<-chan ProviderEvent, error)

	// ListModels returns available models from the backend.
	ListModels(ctx context.Context, apiKey string) ([]ModelInfo, error)

	// Close releases provider resources (HTTP clients, connections).
	Close() error
}
