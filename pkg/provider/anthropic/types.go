package anthropic

// Messages API wire types, reduced to the text fields Chorus uses.

// MessagesRequest is the request body for /v1/messages.
type MessagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Message is one conversation turn. Anthropic has no system role in the
// message list; system text travels in MessagesRequest.System.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContentBlock is one block of a response. Only text blocks are used.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage holds token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessagesResponse is the non-streaming response from /v1/messages.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// StreamEvent is the union of all streaming event payloads. The Type field
// mirrors the SSE event name.
type StreamEvent struct {
	Type    string            `json:"type"`
	Message *MessagesResponse `json:"message,omitempty"`
	Index   int               `json:"index"`
	Delta   *StreamDelta      `json:"delta,omitempty"`
	Usage   *Usage            `json:"usage,omitempty"`
	Error   *ErrorBody        `json:"error,omitempty"`
}

// StreamDelta carries either a text delta (content_block_delta) or the
// stop reason (message_delta).
type StreamDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// ErrorBody is the error object in error responses and error events.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the body of a non-2xx response.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error ErrorBody `json:"error"`
}

// ModelsResponse is the response from /v1/models.
type ModelsResponse struct {
	Data []ModelEntry `json:"data"`
}

// ModelEntry describes one model.
type ModelEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}
