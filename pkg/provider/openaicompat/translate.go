package openaicompat

import (
	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/provider"
)

// TranslateToChat converts a ProviderRequest into a ChatCompletionRequest
// suitable for the /v1/chat/completions endpoint.
func TranslateToChat(req *provider.ProviderRequest) ChatCompletionRequest {
	cr := ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		N:           1,
		Stream:      req.Stream,
	}

	// When streaming, enable usage reporting in the stream.
	if req.Stream {
		cr.StreamOptions = &ChatStreamOptions{IncludeUsage: true}
	}

	for _, pm := range req.Messages {
		cr.Messages = append(cr.Messages, ChatMessage{
			Role:    pm.Role,
			Content: pm.Content,
		})
	}

	return cr
}

// TranslateResponse converts a ChatCompletionResponse into a ProviderResponse.
// Only choices[0] is used. A response without choices is a protocol error.
func TranslateResponse(resp *ChatCompletionResponse) (*provider.ProviderResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, api.NewProtocolError("backend response contained no choices")
	}

	choice := resp.Choices[0]
	pr := &provider.ProviderResponse{
		Text:         ExtractContentString(choice.Message.Content),
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		pr.Usage = translateUsage(resp.Usage)
	}
	return pr, nil
}

// ExtractContentString attempts to get a plain string from the message content.
// The content field in Chat Completions can be a string or nil.
func ExtractContentString(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	return ""
}

func translateUsage(u *ChatUsage) api.Usage {
	return api.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}
