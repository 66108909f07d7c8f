package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/provider"
	"github.com/rhuss/chorus/pkg/provider/sse"
)

// ParseSSEStream reads Chat Completions SSE chunks from the given reader,
// translates each chunk to ProviderEvent values, and sends them on ch.
// The channel is NOT closed by this function; the caller is responsible
// for closing it.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//	\n
//
// A chunk that is not valid JSON ends the stream with a protocol error, and
// an in-band error object ends it with a BackendRejected error. A stream
// that ends with neither [DONE] nor a finish reason is a protocol error.
// Context cancellation stops reading immediately.
func ParseSSEStream(ctx context.Context, body io.Reader, ch chan<- provider.ProviderEvent) {
	finished := false
	err := sse.Scan(ctx, body, func(ev sse.Event) error {
		if ev.Data == "[DONE]" {
			finished = true
			return sse.ErrStop
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			slog.Warn("malformed SSE chunk",
				"error", err.Error(),
				"data", provider.Truncate(ev.Data, 200),
			)
			return api.NewProtocolError("malformed stream chunk: " + err.Error())
		}

		if chunk.Error != nil {
			return api.NewBackendRejectedError(0, chunk.Error.Message)
		}

		for _, c := range chunk.Choices {
			if c.FinishReason != nil {
				finished = true
			}
		}
		TranslateChunk(ctx, &chunk, ch)
		return nil
	})

	// Context cancellation is not an error from our perspective.
	if ctx.Err() != nil {
		return
	}
	if err == nil && !finished {
		err = api.NewProtocolError("stream ended before [DONE]")
	}
	if err == nil {
		return
	}

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		err = api.NewTransportError("SSE stream read error: " + err.Error())
	}
	provider.Emit(ctx, ch, provider.ProviderEvent{
		Type: provider.ProviderEventError,
		Err:  err,
	})
}

// TranslateChunk converts a single ChatCompletionChunk into zero or more
// ProviderEvent values sent on the channel.
func TranslateChunk(ctx context.Context, chunk *ChatCompletionChunk, ch chan<- provider.ProviderEvent) {
	// No choices means nothing to translate (e.g., a usage-only final chunk
	// sent with stream_options.include_usage).
	if len(chunk.Choices) == 0 {
		if chunk.Usage != nil {
			usage := translateUsage(chunk.Usage)
			provider.Emit(ctx, ch, provider.ProviderEvent{
				Type:  provider.ProviderEventDone,
				Usage: &usage,
			})
		}
		return
	}

	choice := chunk.Choices[0]

	if content := ExtractDeltaContent(choice.Delta.Content); content != "" {
		if !provider.Emit(ctx, ch, provider.ProviderEvent{
			Type:  provider.ProviderEventTextDelta,
			Delta: content,
		}) {
			return
		}
	}

	if choice.FinishReason != nil {
		reason := *choice.FinishReason
		if reason != "stop" && reason != "length" {
			slog.Debug("unusual finish_reason in stream", "finish_reason", reason)
		}
		done := provider.ProviderEvent{
			Type:         provider.ProviderEventTextDone,
			FinishReason: reason,
		}
		if chunk.Usage != nil {
			usage := translateUsage(chunk.Usage)
			done.Usage = &usage
		}
		provider.Emit(ctx, ch, done)
	}
}

// ExtractDeltaContent safely extracts the content string from a delta pointer.
func ExtractDeltaContent(content *string) string {
	if content == nil {
		return ""
	}
	return *content
}
