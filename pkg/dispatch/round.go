package dispatch

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rhuss/chorus/pkg/api"
)

// Round is one submitted query and its branches.
type Round struct {
	// ID identifies the round (round_ prefix).
	ID string

	// Query is the user message dispatched to every participant.
	Query string

	participants         []api.Target
	placeholders         []string
	aggregator           *api.Target
	synthesisPlaceholder string

	collector *Collector
	gate      *gate
	cancel    context.CancelFunc
	done      chan struct{}

	mu          sync.Mutex
	synthesis   *api.BranchOutcome
	status      api.RoundStatus
	createdAt   time.Time
	completedAt time.Time
}

// Participants returns the active non-aggregator targets in dispatch order.
func (r *Round) Participants() []api.Target {
	return slices.Clone(r.participants)
}

// Placeholders returns the placeholder IDs, aligned with Participants.
func (r *Round) Placeholders() []string {
	return slices.Clone(r.placeholders)
}

// PlaceholderFor returns the placeholder of a participant.
func (r *Round) PlaceholderFor(targetID string) (string, bool) {
	for i, t := range r.participants {
		if t.ID == targetID {
			return r.placeholders[i], true
		}
	}
	return "", false
}

// Aggregator returns the synthesis target, or nil when the round has none.
func (r *Round) Aggregator() *api.Target {
	if r.aggregator == nil {
		return nil
	}
	agg := *r.aggregator
	return &agg
}

// SynthesisPlaceholder returns the placeholder ID the synthesis streams
// into. It is empty when the round has no aggregator.
func (r *Round) SynthesisPlaceholder() string {
	return r.synthesisPlaceholder
}

// Join waits for every primary branch and returns their outcomes in
// participant order. Repeated calls return the same outcomes.
func (r *Round) Join() []api.BranchOutcome {
	return r.collector.Join()
}

// Joined is closed once every primary branch has settled.
func (r *Round) Joined() <-chan struct{} {
	return r.collector.Done()
}

// Done is closed once the round, including synthesis, has finished.
func (r *Round) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the round finishes or ctx is done, and returns the
// round record.
func (r *Round) Wait(ctx context.Context) (api.RoundRecord, error) {
	select {
	case <-r.done:
		return r.Record(), nil
	case <-ctx.Done():
		return api.RoundRecord{}, ctx.Err()
	}
}

// Cancel stops the round without blocking. No new notification starts
// after Cancel returns; a callback already running is not waited for.
// In-flight provider calls are abandoned, not awaited.
func (r *Round) Cancel() {
	r.gate.close()
	r.cancel()
}

// Synthesis returns the synthesis outcome once it has settled, or nil.
func (r *Round) Synthesis() *api.BranchOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.synthesis == nil {
		return nil
	}
	s := *r.synthesis
	return &s
}

// Record returns a snapshot of the round. Outcomes are filled in once the
// primary branches have joined.
func (r *Round) Record() api.RoundRecord {
	r.mu.Lock()
	rec := api.RoundRecord{
		ID:           r.ID,
		Query:        r.Query,
		Status:       r.status,
		Participants: slices.Clone(r.participants),
		Aggregator:   r.Aggregator(),
		CreatedAt:    r.createdAt,
		CompletedAt:  r.completedAt,
	}
	if r.synthesis != nil {
		s := *r.synthesis
		rec.Synthesis = &s
	}
	r.mu.Unlock()

	if rec.Status == "" {
		rec.Status = api.RoundStatusInProgress
	}
	select {
	case <-r.collector.Done():
		rec.Outcomes = r.collector.Join()
	default:
	}
	return rec
}
