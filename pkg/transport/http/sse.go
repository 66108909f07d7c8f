package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/transport"
)

// sseWriteTimeout bounds each event write so a client that stops reading
// fails its round instead of holding it.
const sseWriteTimeout = 10 * time.Second

// writerState tracks the state of an SSE RoundWriter.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteEvent has been called at least once
	writerCompleted                    // Terminal event sent or WriteRound called
)

// sseRoundWriter implements transport.RoundWriter for HTTP. Streaming
// submissions get Server-Sent Events, others a single JSON record.
type sseRoundWriter struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu    sync.Mutex
	state writerState

	// onRoundCreated is called with the round ID when the round.created
	// event is written, for in-flight registration.
	onRoundCreated func(id string)
}

var _ transport.RoundWriter = (*sseRoundWriter)(nil)

// newSSERoundWriter wraps an http.ResponseWriter. onCreated may be nil.
func newSSERoundWriter(w http.ResponseWriter, onCreated func(id string)) *sseRoundWriter {
	return &sseRoundWriter{
		w:              w,
		rc:             http.NewResponseController(w),
		writeTimeout:   sseWriteTimeout,
		onRoundCreated: onCreated,
	}
}

// WriteEvent sends one SSE event:
//
//	event: {type}
//	id: {sequence_number}
//	data: {json}
//
// A terminal event is followed by "data: [DONE]" and closes the writer.
// The id line lets clients report the last event they saw.
func (s *sseRoundWriter) WriteEvent(ctx context.Context, event api.RoundEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write event: writer is completed")
	}

	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.Header().Set("X-Accel-Buffering", "no")
		s.state = writerStreaming
	}

	if event.Type == api.EventRoundCreated && s.onRoundCreated != nil {
		s.onRoundCreated(event.RoundID)
		s.onRoundCreated = nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := s.setWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	// Cleared again so the deadline does not outlive the event on a
	// kept-alive connection.
	defer s.setWriteDeadline(time.Time{})
	if _, err := fmt.Fprintf(s.w, "event: %s\nid: %d\ndata: %s\n\n", event.Type, event.SequenceNumber, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	if event.Type.IsTerminal() {
		if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
			return fmt.Errorf("failed to write [DONE]: %w", err)
		}
		if err := s.rc.Flush(); err != nil {
			return fmt.Errorf("failed to flush [DONE]: %w", err)
		}
		s.state = writerCompleted
	}
	return nil
}

// setWriteDeadline is a no-op for writers without deadline support.
func (s *sseRoundWriter) setWriteDeadline(t time.Time) error {
	if s.writeTimeout <= 0 {
		return nil
	}
	err := s.rc.SetWriteDeadline(t)
	if errors.Is(err, http.ErrNotSupported) {
		return nil
	}
	return err
}

// WriteRound sends the round record as JSON. It is mutually exclusive
// with WriteEvent.
func (s *sseRoundWriter) WriteRound(ctx context.Context, record *api.RoundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerStreaming {
		return errors.New("cannot write round: streaming has already started")
	}
	if s.state == writerCompleted {
		return errors.New("cannot write round: writer is completed")
	}

	s.w.Header().Set("Content-Type", "application/json")
	s.state = writerCompleted

	if err := json.NewEncoder(s.w).Encode(record); err != nil {
		return fmt.Errorf("failed to encode round: %w", err)
	}
	return nil
}

// Flush ensures buffered data is sent to the client.
func (s *sseRoundWriter) Flush() error {
	return s.rc.Flush()
}

// hasStartedStreaming returns true if at least one SSE event has been written.
func (s *sseRoundWriter) hasStartedStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == writerStreaming || (s.state == writerCompleted && s.w.Header().Get("Content-Type") == "text/event-stream")
}
