package transport

import (
	"context"
	"sort"
	"sync"
)

// InFlightRegistry tracks running rounds so a DELETE request or a
// WebSocket cancel frame can stop them. It maps round IDs to the cancel
// function of the submission that started them.
type InFlightRegistry struct {
	mu     sync.Mutex
	rounds map[string]context.CancelFunc
}

// NewInFlightRegistry creates an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{rounds: make(map[string]context.CancelFunc)}
}

// Register records a running round.
func (r *InFlightRegistry) Register(roundID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds[roundID] = cancel
}

// Cancel stops a running round. It reports false when the round is not
// running, either because it already ended or never existed.
func (r *InFlightRegistry) Cancel(roundID string) bool {
	r.mu.Lock()
	cancel, ok := r.rounds[roundID]
	delete(r.rounds, roundID)
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Remove forgets a round that ended on its own.
func (r *InFlightRegistry) Remove(roundID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rounds, roundID)
}

// Running returns the IDs of the registered rounds in sorted order.
func (r *InFlightRegistry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.rounds))
	for id := range r.rounds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CancelAll stops every registered round and reports how many there were.
func (r *InFlightRegistry) CancelAll() int {
	r.mu.Lock()
	rounds := r.rounds
	r.rounds = make(map[string]context.CancelFunc)
	r.mu.Unlock()

	for _, cancel := range rounds {
		cancel()
	}
	return len(rounds)
}
