package provider

import (
	"strings"

	"github.com/rhuss/chorus/pkg/api"
)

// ProviderCapabilities declares what features the backend supports.
type ProviderCapabilities struct {
	// Streaming indicates whether the provider can stream text fragments.
	// Providers without streaming are driven through Complete.
	Streaming bool

	// WebSearch indicates whether the provider can ground answers with a
	// backend-side web search tool.
	WebSearch bool

	// SupportedModels lists models this provider can serve.
	// Empty means "ask ListModels()".
	SupportedModels []string
}

// ProviderRequest is the backend-facing request. It contains only the
// information the provider needs, stripped of transport and storage concerns.
type ProviderRequest struct {
	Model       string            `json:"model"`
	Messages    []ProviderMessage `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Stream      bool              `json:"stream,omitempty"`

	// APIKey is the caller's credential for this invocation only.
	APIKey string `json:"-"`

	// WebSearch asks providers that support it to ground the answer with
	// a web search. Ignored by providers without the capability.
	WebSearch bool `json:"-"`

	// Extra holds provider-specific parameters that don't map to standard fields.
	Extra map[string]any `json:"-"`
}

// ProviderMessage represents a message in the provider's conversation format.
type ProviderMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SplitSystem separates leading system messages from the conversation.
// Backends that carry the system prompt out of band (Anthropic, Gemini)
// use this to build their request bodies.
func SplitSystem(messages []ProviderMessage) (system string, rest []ProviderMessage) {
	var parts []string
	for _, m := range messages {
		if m.Role == string(api.RoleSystem) {
			parts = append(parts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}

// ProviderResponse is the backend's complete non-streaming response.
type ProviderResponse struct {
	Text         string    `json:"text"`
	Model        string    `json:"model"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Usage        api.Usage `json:"usage"`
}

// ProviderEventType classifies a streaming event from the backend.
type ProviderEventType int

const (
	ProviderEventTextDelta ProviderEventType = iota // Incremental text content
	ProviderEventTextDone                           // Text content complete
	ProviderEventDone                               // Stream finished
	ProviderEventError                              // Stream error
)

// ProviderEvent is a single streaming event from the backend.
type ProviderEvent struct {
	// Type indicates what kind of event this is.
	Type ProviderEventType

	// Delta contains incremental text.
	Delta string

	// FinishReason is populated on text done events when the backend reports one.
	FinishReason string

	// Usage is populated on the final event.
	Usage *api.Usage

	// Err is populated if the stream encountered an error.
	Err error
}

// ModelInfo holds information about a model served by the provider.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	OwnedBy     string `json:"owned_by,omitempty"`
}
