package openai

import "time"

// DefaultBaseURL is the public OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com"

// DefaultModel is used for targets added without an explicit model.
const DefaultModel = "gpt-4o"

// Config holds configuration for the OpenAI provider adapter.
type Config struct {
	// BaseURL overrides the API endpoint (default: https://api.openai.com).
	BaseURL string

	// Timeout for non-streaming HTTP requests. Defaults to 120s.
	Timeout time.Duration

	// Models restricts the models this provider accepts. Empty accepts any.
	Models []string

	// ModelMapping maps requested model names to backend model identifiers.
	// For example: {"fast": "gpt-4o-mini"}. Models not in the map are
	// passed through unchanged.
	ModelMapping map[string]string
}
