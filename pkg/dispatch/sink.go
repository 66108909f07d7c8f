package dispatch

import (
	"sync/atomic"

	"github.com/rhuss/chorus/pkg/api"
)

// Sink receives per-placeholder notifications while a round runs.
//
// OnAppend carries the full accumulated text of the placeholder, never a
// delta; successive calls for one placeholder extend the previous text.
// OnTerminal is called exactly once per placeholder, after its last
// OnAppend. Calls for one placeholder come from a single goroutine in
// order; calls for different placeholders run concurrently, so a Sink
// must be safe for concurrent use. A slow callback only delays its own
// placeholder.
type Sink interface {
	OnAppend(placeholderID, text string)
	OnTerminal(placeholderID string, outcome api.BranchOutcome)
}

// Observer is an optional extension of Sink for round lifecycle
// notifications. Submit detects it with a type assertion.
type Observer interface {
	// OnRoundStarted is called once placeholders exist and before any
	// branch runs.
	OnRoundStarted(r *Round)

	// OnJoined is called with the joined primary outcomes, in participant
	// order.
	OnJoined(outcomes []api.BranchOutcome)

	// OnSynthesisStarted is called before the synthesis branch runs.
	OnSynthesisStarted(placeholderID string, aggregator api.Target)

	// OnRoundFinished is called last for a round that was not cancelled.
	OnRoundFinished(record api.RoundRecord)
}

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	Append   func(placeholderID, text string)
	Terminal func(placeholderID string, outcome api.BranchOutcome)
}

// OnAppend implements Sink.
func (f SinkFuncs) OnAppend(placeholderID, text string) {
	if f.Append != nil {
		f.Append(placeholderID, text)
	}
}

// OnTerminal implements Sink.
func (f SinkFuncs) OnTerminal(placeholderID string, outcome api.BranchOutcome) {
	if f.Terminal != nil {
		f.Terminal(placeholderID, outcome)
	}
}

// discard is used when Submit gets a nil sink.
type discard struct{}

func (discard) OnAppend(string, string)              {}
func (discard) OnTerminal(string, api.BranchOutcome) {}

// gate drops notifications for one round once closed. close never waits
// for a callback in progress; after it returns no new callback starts.
// Ordering comes from the callers: each placeholder is driven by one relay
// goroutine and observer calls come from the round's coordinator.
type gate struct {
	closed   atomic.Bool
	sink     Sink
	observer Observer
}

func newGate(sink Sink) *gate {
	if sink == nil {
		sink = discard{}
	}
	g := &gate{sink: sink}
	if obs, ok := sink.(Observer); ok {
		g.observer = obs
	}
	return g
}

// deliver runs fn on the caller's goroutine unless the gate is closed.
func (g *gate) deliver(fn func()) bool {
	if g.closed.Load() {
		return false
	}
	fn()
	return true
}

func (g *gate) close() {
	g.closed.Store(true)
}

func (g *gate) OnAppend(placeholderID, text string) {
	g.deliver(func() { g.sink.OnAppend(placeholderID, text) })
}

func (g *gate) OnTerminal(placeholderID string, outcome api.BranchOutcome) {
	g.deliver(func() { g.sink.OnTerminal(placeholderID, outcome) })
}

func (g *gate) roundStarted(r *Round) {
	if g.observer != nil {
		g.deliver(func() { g.observer.OnRoundStarted(r) })
	}
}

func (g *gate) joined(outcomes []api.BranchOutcome) {
	if g.observer != nil {
		g.deliver(func() { g.observer.OnJoined(outcomes) })
	}
}

func (g *gate) synthesisStarted(placeholderID string, aggregator api.Target) {
	if g.observer != nil {
		g.deliver(func() { g.observer.OnSynthesisStarted(placeholderID, aggregator) })
	}
}

func (g *gate) roundFinished(record api.RoundRecord) {
	if g.observer != nil {
		g.deliver(func() { g.observer.OnRoundFinished(record) })
	}
}
