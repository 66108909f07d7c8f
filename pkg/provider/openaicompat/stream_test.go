package openaicompat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/provider"
)

// collectEvents runs ParseSSEStream and returns all events.
func collectEvents(t *testing.T, sseData string) []provider.ProviderEvent {
	t.Helper()
	ch := make(chan provider.ProviderEvent, 64)

	go func() {
		defer close(ch)
		ParseSSEStream(context.Background(), strings.NewReader(sseData), ch)
	}()

	var events []provider.ProviderEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestParseSSEStream_TextDeltas(t *testing.T) {
	sseData := `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":null}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}

data: [DONE]
`
	events := collectEvents(t, sseData)

	// Role-only chunk produces nothing; then two deltas, text done, usage done.
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	assertEvent(t, events[0], provider.ProviderEventTextDelta, "Hello")
	assertEvent(t, events[1], provider.ProviderEventTextDelta, " world")
	assertEvent(t, events[2], provider.ProviderEventTextDone, "")
	if events[2].FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", events[2].FinishReason)
	}
	assertEvent(t, events[3], provider.ProviderEventDone, "")
	if events[3].Usage == nil || events[3].Usage.TotalTokens != 5 {
		t.Errorf("expected usage with 5 total tokens, got %+v", events[3].Usage)
	}
}

func TestParseSSEStream_DoneSentinelStopsReading(t *testing.T) {
	sseData := `data: {"choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}

data: [DONE]

data: {"choices":[{"index":0,"delta":{"content":"ignored"},"finish_reason":null}]}
`
	events := collectEvents(t, sseData)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d: %+v", len(events), events)
	}
	assertEvent(t, events[0], provider.ProviderEventTextDelta, "Hi")
}

func TestParseSSEStream_MalformedChunkIsProtocolError(t *testing.T) {
	sseData := `data: {"choices":[{"index":0,"delta":{"content":"par"},"finish_reason":null}]}

data: {not json

data: {"choices":[{"index":0,"delta":{"content":"tial"},"finish_reason":null}]}
`
	events := collectEvents(t, sseData)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	assertEvent(t, events[0], provider.ProviderEventTextDelta, "par")
	if events[1].Type != provider.ProviderEventError {
		t.Fatalf("expected error event, got %d", events[1].Type)
	}
	var apiErr *api.APIError
	if !errors.As(events[1].Err, &apiErr) || apiErr.Type != api.ErrorTypeProtocol {
		t.Errorf("expected protocol error, got %v", events[1].Err)
	}
}

func TestParseSSEStream_TruncatedStreamIsProtocolError(t *testing.T) {
	sseData := `data: {"choices":[{"index":0,"delta":{"content":"cut"},"finish_reason":null}]}

`
	events := collectEvents(t, sseData)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	assertEvent(t, events[0], provider.ProviderEventTextDelta, "cut")
	var apiErr *api.APIError
	if !errors.As(events[1].Err, &apiErr) || apiErr.Type != api.ErrorTypeProtocol {
		t.Errorf("expected protocol error, got %v", events[1].Err)
	}
}

func TestParseSSEStream_FinishReasonWithoutDone(t *testing.T) {
	sseData := `data: {"choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":null}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

`
	for _, ev := range collectEvents(t, sseData) {
		if ev.Type == provider.ProviderEventError {
			t.Errorf("unexpected error event: %v", ev.Err)
		}
	}
}

func TestParseSSEStream_InBandError(t *testing.T) {
	sseData := `data: {"error":{"message":"The server had an error while processing your request.","type":"server_error"}}
`
	events := collectEvents(t, sseData)
	if len(events) != 1 || events[0].Type != provider.ProviderEventError {
		t.Fatalf("expected one error event, got %+v", events)
	}
	var apiErr *api.APIError
	if !errors.As(events[0].Err, &apiErr) || apiErr.Type != api.ErrorTypeBackendRejected {
		t.Fatalf("expected backend_rejected, got %v", events[0].Err)
	}
	if !strings.Contains(apiErr.Message, "server had an error") {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

type failingReader struct {
	data string
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset by peer")
}

func TestParseSSEStream_ReadErrorIsTransportError(t *testing.T) {
	ch := make(chan provider.ProviderEvent, 8)
	body := &failingReader{data: "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a\"},\"finish_reason\":null}]}\n\n"}

	go func() {
		defer close(ch)
		ParseSSEStream(context.Background(), body, ch)
	}()

	var events []provider.ProviderEvent
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	var apiErr *api.APIError
	if !errors.As(events[1].Err, &apiErr) || apiErr.Type != api.ErrorTypeTransport {
		t.Fatalf("expected transport error, got %v", events[1].Err)
	}
}

func assertEvent(t *testing.T, ev provider.ProviderEvent, wantType provider.ProviderEventType, wantDelta string) {
	t.Helper()
	if ev.Type != wantType {
		t.Errorf("event type = %d, want %d", ev.Type, wantType)
	}
	if ev.Delta != wantDelta {
		t.Errorf("event delta = %q, want %q", ev.Delta, wantDelta)
	}
}
