package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/chorus/pkg/provider/anthropic"
	"github.com/rhuss/chorus/pkg/provider/google"
	"github.com/rhuss/chorus/pkg/provider/openaicompat"
)

// behavior is the failure mode selected by the model name.
type behavior int

const (
	behaveNormal behavior = iota
	behaveFail
	behaveSlow
	behaveTruncate
)

func behaviorOf(model string) behavior {
	switch {
	case strings.HasSuffix(model, "-fail"):
		return behaveFail
	case strings.HasSuffix(model, "-slow"):
		return behaveSlow
	case strings.HasSuffix(model, "-truncate"):
		return behaveTruncate
	}
	return behaveNormal
}

// mock serves the three wire protocols.
type mock struct {
	slowDelay time.Duration
}

func newMux(slowDelay time.Duration) *http.ServeMux {
	m := &mock{slowDelay: slowDelay}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", m.handleModels)
	mux.HandleFunc("POST /v1/messages", m.handleMessages)
	mux.HandleFunc("POST /v1beta/models/{call}", m.handleGenerate)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// fragments returns the answer for model and prompt, split the way a
// backend streams it.
func fragments(model, prompt string) []string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "count from 1 to 5"):
		return []string{"1", ", ", "2", ", ", "3", ", ", "4", ", ", "5"}
	case strings.Contains(prompt, "<query>"):
		return []string{"Combined", " answer", " from ", model, "."}
	}
	return []string{"Hello", " from ", model, "!"}
}

// --- Chat Completions (OpenAI, xAI, compatible servers) ---

func (m *mock) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openaicompat.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, openaicompat.ChatErrorResponse{
			Error: openaicompat.ChatErrorBody{Message: "invalid request", Type: "invalid_request_error"},
		})
		return
	}
	if behaviorOf(req.Model) == behaveFail {
		writeJSON(w, http.StatusInternalServerError, openaicompat.ChatErrorResponse{
			Error: openaicompat.ChatErrorBody{Message: "mock failure for " + req.Model, Type: "server_error"},
		})
		return
	}

	parts := fragments(req.Model, lastChatUserMessage(req.Messages))
	usage := &openaicompat.ChatUsage{PromptTokens: 10, CompletionTokens: len(parts), TotalTokens: 10 + len(parts)}

	if !req.Stream {
		writeJSON(w, http.StatusOK, openaicompat.ChatCompletionResponse{
			ID:     "chatcmpl-mock",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openaicompat.ChatChoice{{
				Message:      openaicompat.ChatMessage{Role: "assistant", Content: strings.Join(parts, "")},
				FinishReason: "stop",
			}},
			Usage: usage,
		})
		return
	}

	s, ok := m.startStream(w, req.Model)
	if !ok {
		return
	}
	for _, p := range parts {
		content := p
		s.data(openaicompat.ChatCompletionChunk{
			ID: "chatcmpl-mock", Object: "chat.completion.chunk", Model: req.Model,
			Choices: []openaicompat.ChatChunkChoice{{Delta: openaicompat.ChatChunkDelta{Content: &content}}},
		})
	}
	if s.truncated() {
		return
	}
	stop := "stop"
	s.data(openaicompat.ChatCompletionChunk{
		ID: "chatcmpl-mock", Object: "chat.completion.chunk", Model: req.Model,
		Choices: []openaicompat.ChatChunkChoice{{FinishReason: &stop}},
		Usage:   usage,
	})
	s.raw("data: [DONE]\n\n")
}

func (m *mock) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, openaicompat.ChatModelsResponse{
		Object: "list",
		Data: []openaicompat.ChatModel{
			{ID: "mock-model", Object: "model", OwnedBy: "chorus-mock"},
			{ID: "mock-model-slow", Object: "model", OwnedBy: "chorus-mock"},
			{ID: "mock-model-fail", Object: "model", OwnedBy: "chorus-mock"},
		},
	})
}

func lastChatUserMessage(msgs []openaicompat.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != "user" {
			continue
		}
		if s, ok := msgs[i].Content.(string); ok {
			return s
		}
	}
	return ""
}

// --- Anthropic Messages ---

func (m *mock) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, anthropic.ErrorResponse{
			Type:  "error",
			Error: anthropic.ErrorBody{Type: "invalid_request_error", Message: "invalid request"},
		})
		return
	}
	if behaviorOf(req.Model) == behaveFail {
		writeJSON(w, http.StatusInternalServerError, anthropic.ErrorResponse{
			Type:  "error",
			Error: anthropic.ErrorBody{Type: "api_error", Message: "mock failure for " + req.Model},
		})
		return
	}

	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			prompt = req.Messages[i].Content
			break
		}
	}
	parts := fragments(req.Model, prompt)
	usage := anthropic.Usage{InputTokens: 10, OutputTokens: len(parts)}

	if !req.Stream {
		writeJSON(w, http.StatusOK, anthropic.MessagesResponse{
			ID: "msg_mock", Type: "message", Role: "assistant", Model: req.Model,
			Content:    []anthropic.ContentBlock{{Type: "text", Text: strings.Join(parts, "")}},
			StopReason: "end_turn",
			Usage:      usage,
		})
		return
	}

	s, ok := m.startStream(w, req.Model)
	if !ok {
		return
	}
	s.event("message_start", anthropic.StreamEvent{
		Type:    "message_start",
		Message: &anthropic.MessagesResponse{ID: "msg_mock", Type: "message", Role: "assistant", Model: req.Model, Usage: anthropic.Usage{InputTokens: 10}},
	})
	for _, p := range parts {
		s.event("content_block_delta", anthropic.StreamEvent{
			Type:  "content_block_delta",
			Delta: &anthropic.StreamDelta{Type: "text_delta", Text: p},
		})
	}
	if s.truncated() {
		return
	}
	s.event("message_delta", anthropic.StreamEvent{
		Type:  "message_delta",
		Delta: &anthropic.StreamDelta{StopReason: "end_turn"},
		Usage: &anthropic.Usage{OutputTokens: len(parts)},
	})
	s.event("message_stop", anthropic.StreamEvent{Type: "message_stop"})
}

// --- Gemini generateContent ---

func (m *mock) handleGenerate(w http.ResponseWriter, r *http.Request) {
	model, method, ok := strings.Cut(r.PathValue("call"), ":")
	if !ok || (method != "generateContent" && method != "streamGenerateContent") {
		writeJSON(w, http.StatusNotFound, google.GenerateContentResponse{
			Error: &google.ErrorBody{Code: http.StatusNotFound, Message: "unknown method", Status: "NOT_FOUND"},
		})
		return
	}

	var req google.GenerateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, google.GenerateContentResponse{
			Error: &google.ErrorBody{Code: http.StatusBadRequest, Message: "invalid request", Status: "INVALID_ARGUMENT"},
		})
		return
	}
	if behaviorOf(model) == behaveFail {
		writeJSON(w, http.StatusInternalServerError, google.GenerateContentResponse{
			Error: &google.ErrorBody{Code: http.StatusInternalServerError, Message: "mock failure for " + model, Status: "INTERNAL"},
		})
		return
	}

	var prompt string
	for i := len(req.Contents) - 1; i >= 0; i-- {
		if req.Contents[i].Role == "user" && len(req.Contents[i].Parts) > 0 {
			prompt = req.Contents[i].Parts[0].Text
			break
		}
	}
	parts := fragments(model, prompt)
	usage := &google.UsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: len(parts), TotalTokenCount: 10 + len(parts)}

	if method == "generateContent" {
		writeJSON(w, http.StatusOK, google.GenerateContentResponse{
			Candidates: []google.Candidate{{
				Content:      google.Content{Role: "model", Parts: []google.Part{{Text: strings.Join(parts, "")}}},
				FinishReason: "STOP",
			}},
			UsageMetadata: usage,
		})
		return
	}

	s, ok := m.startStream(w, model)
	if !ok {
		return
	}
	for i, p := range parts {
		chunk := google.GenerateContentResponse{
			Candidates: []google.Candidate{{Content: google.Content{Role: "model", Parts: []google.Part{{Text: p}}}}},
		}
		if i == len(parts)-1 {
			if s.truncated() {
				s.data(chunk)
				return
			}
			chunk.Candidates[0].FinishReason = "STOP"
			chunk.UsageMetadata = usage
		}
		s.data(chunk)
	}
}

// --- SSE helpers ---

type stream struct {
	w     http.ResponseWriter
	rc    *http.ResponseController
	delay time.Duration
	mode  behavior
}

func (m *mock) startStream(w http.ResponseWriter, model string) (*stream, bool) {
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, false
	}

	s := &stream{w: w, rc: rc, mode: behaviorOf(model)}
	if s.mode == behaveSlow {
		s.delay = m.slowDelay
	}
	return s, true
}

func (s *stream) truncated() bool {
	return s.mode == behaveTruncate
}

func (s *stream) data(v any) {
	b, _ := json.Marshal(v)
	s.raw(fmt.Sprintf("data: %s\n\n", b))
}

func (s *stream) event(name string, v any) {
	b, _ := json.Marshal(v)
	s.raw(fmt.Sprintf("event: %s\ndata: %s\n\n", name, b))
}

func (s *stream) raw(text string) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	fmt.Fprint(s.w, text)
	s.rc.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
