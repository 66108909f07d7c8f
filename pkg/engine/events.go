package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/dispatch"
	"github.com/rhuss/chorus/pkg/transport"
)

// eventSink turns dispatcher notifications into numbered round events.
// It implements dispatch.Sink and dispatch.Observer.
type eventSink struct {
	ctx  context.Context
	w    transport.RoundWriter
	fail context.CancelFunc

	mu       sync.Mutex
	seq      int
	roundID  string
	targets  map[string]string // placeholder ID -> target ID
	writeErr error
	terminal bool
}

var (
	_ dispatch.Sink     = (*eventSink)(nil)
	_ dispatch.Observer = (*eventSink)(nil)
)

func newEventSink(ctx context.Context, w transport.RoundWriter, fail context.CancelFunc) *eventSink {
	return &eventSink{
		ctx:     ctx,
		w:       w,
		fail:    fail,
		targets: make(map[string]string),
	}
}

// emit numbers and writes one event. Nothing is written after a terminal
// event or a failed write.
func (s *eventSink) emit(ev api.RoundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil || s.terminal {
		return
	}

	ev.SequenceNumber = s.seq
	s.seq++
	ev.RoundID = s.roundID
	if ev.PlaceholderID != "" && ev.TargetID == "" {
		ev.TargetID = s.targets[ev.PlaceholderID]
	}

	// The terminal event goes out even when the client context is gone.
	ctx := s.ctx
	if ev.Type.IsTerminal() {
		ctx = context.WithoutCancel(ctx)
	}
	if err := s.w.WriteEvent(ctx, ev); err != nil {
		slog.Debug("round event write failed", "round", s.roundID, "type", ev.Type, "error", err.Error())
		s.writeErr = err
		s.fail()
		return
	}
	s.terminal = ev.Type.IsTerminal()
}

func (s *eventSink) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErr
}

func (s *eventSink) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// OnRoundStarted implements dispatch.Observer.
func (s *eventSink) OnRoundStarted(r *dispatch.Round) {
	s.mu.Lock()
	s.roundID = r.ID
	placeholders := r.Placeholders()
	participants := r.Participants()
	for i, t := range participants {
		s.targets[placeholders[i]] = t.ID
	}
	s.mu.Unlock()

	rec := r.Record()
	s.emit(api.RoundEvent{Type: api.EventRoundCreated, Round: &rec})
	for i, t := range participants {
		s.emit(api.RoundEvent{
			Type:          api.EventBranchStarted,
			PlaceholderID: placeholders[i],
			TargetID:      t.ID,
		})
	}
}

// OnAppend implements dispatch.Sink.
func (s *eventSink) OnAppend(placeholderID, text string) {
	s.emit(api.RoundEvent{Type: api.EventBranchAppend, PlaceholderID: placeholderID, Text: text})
}

// OnTerminal implements dispatch.Sink.
func (s *eventSink) OnTerminal(placeholderID string, outcome api.BranchOutcome) {
	s.emit(api.RoundEvent{Type: api.EventBranchTerminal, PlaceholderID: placeholderID, Outcome: &outcome})
}

// OnJoined implements dispatch.Observer.
func (s *eventSink) OnJoined(outcomes []api.BranchOutcome) {
	s.emit(api.RoundEvent{Type: api.EventRoundJoined, Outcomes: outcomes})
}

// OnSynthesisStarted implements dispatch.Observer.
func (s *eventSink) OnSynthesisStarted(placeholderID string, aggregator api.Target) {
	s.mu.Lock()
	s.targets[placeholderID] = aggregator.ID
	s.mu.Unlock()
	s.emit(api.RoundEvent{Type: api.EventSynthesisStarted, PlaceholderID: placeholderID})
}

// OnRoundFinished implements dispatch.Observer.
func (s *eventSink) OnRoundFinished(record api.RoundRecord) {
	typ := api.EventRoundCompleted
	if record.Status == api.RoundStatusCancelled {
		typ = api.EventRoundCancelled
	}
	s.emit(api.RoundEvent{Type: typ, Round: &record})
}
