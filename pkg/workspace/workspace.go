// Package workspace holds the user's configured targets and submits rounds
// over them. It owns target lifecycle: creation, status toggles, model
// switches (which clear the target's transcript), aggregator selection and
// removal.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/debug"
	"github.com/rhuss/chorus/pkg/dispatch"
)

// Models resolves provider defaults for targets added without a model.
type Models interface {
	// DefaultModel returns the model used when a target names none.
	DefaultModel(providerID string) (string, bool)

	// HasProvider reports whether providerID is known.
	HasProvider(providerID string) bool
}

// Patch is a partial target update. Nil fields are left unchanged.
type Patch struct {
	Status      *api.TargetStatus `json:"status,omitempty"`
	ModelID     *string           `json:"model,omitempty"`
	DisplayName *string           `json:"display_name,omitempty"`
	Aggregator  *bool             `json:"aggregator,omitempty"`
}

// Workspace is the set of targets rounds are dispatched over. It is safe
// for concurrent use.
type Workspace struct {
	dispatcher *dispatch.Dispatcher
	models     Models

	submitMu sync.Mutex // serializes round starts

	mu      sync.Mutex
	targets []api.Target // insertion order
	current *dispatch.Round
	live    map[string]*dispatch.Round
	wg      sync.WaitGroup
}

// New creates an empty workspace. models may be nil, in which case every
// provider is accepted and a model must always be given.
func New(d *dispatch.Dispatcher, models Models) *Workspace {
	return &Workspace{
		dispatcher: d,
		models:     models,
		live:       make(map[string]*dispatch.Round),
	}
}

// Add creates a target. An empty ID is derived from the model, an empty
// model falls back to the provider's default and an empty status means
// active. Adding an active aggregator while another one is active fails.
func (w *Workspace) Add(t api.Target) (api.Target, error) {
	if t.ProviderID == "" {
		return api.Target{}, api.NewInvalidRequestError("provider", "provider is required")
	}
	if w.models != nil && !w.models.HasProvider(t.ProviderID) {
		return api.Target{}, api.NewInvalidRequestError("provider", fmt.Sprintf("unknown provider %q", t.ProviderID))
	}
	if t.ModelID == "" && w.models != nil {
		if m, ok := w.models.DefaultModel(t.ProviderID); ok {
			t.ModelID = m
		}
	}
	if t.Status == "" {
		t.Status = api.TargetStatusActive
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if t.ID == "" {
		t.ID = w.nextID(t.ModelID)
	}
	if apiErr := api.ValidateTarget(t); apiErr != nil {
		return api.Target{}, apiErr
	}
	if w.indexOf(t.ID) >= 0 {
		return api.Target{}, api.NewInvalidRequestError("id", fmt.Sprintf("target %q already exists", t.ID))
	}

	next := append(slices.Clone(w.targets), t)
	if apiErr := api.ValidateTargets(next); apiErr != nil {
		return api.Target{}, apiErr
	}
	w.targets = next

	slog.Info("target added", "target", t.ID, "provider", t.ProviderID, "model", t.ModelID, "status", t.Status)
	return t, nil
}

// Remove deletes a target and its transcript.
func (w *Workspace) Remove(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := w.indexOf(id)
	if i < 0 {
		return notFound(id)
	}
	w.targets = slices.Delete(w.targets, i, i+1)
	w.dispatcher.Transcripts().Drop(id)

	slog.Info("target removed", "target", id)
	return nil
}

// SetStatus changes whether a target takes part in rounds.
func (w *Workspace) SetStatus(id string, status api.TargetStatus) (api.Target, error) {
	return w.Update(id, Patch{Status: &status})
}

// SwitchModel points a target at another model and clears its transcript.
func (w *Workspace) SwitchModel(id, model string) (api.Target, error) {
	return w.Update(id, Patch{ModelID: &model})
}

// SetAggregator makes id the only aggregator target. An empty id clears
// the aggregator.
func (w *Workspace) SetAggregator(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if id != "" && w.indexOf(id) < 0 {
		return notFound(id)
	}
	for i := range w.targets {
		w.targets[i].IsAggregator = w.targets[i].ID == id
	}
	debug.Log("dispatch", "aggregator selected", "target", id)
	return nil
}

// Update applies p to a target. Making a target the aggregator removes the
// flag from every other target.
func (w *Workspace) Update(id string, p Patch) (api.Target, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := w.indexOf(id)
	if i < 0 {
		return api.Target{}, notFound(id)
	}

	next := slices.Clone(w.targets)
	t := &next[i]
	modelChanged := false

	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.ModelID != nil && *p.ModelID != t.ModelID {
		t.ModelID = *p.ModelID
		modelChanged = true
	}
	if p.DisplayName != nil {
		t.DisplayName = *p.DisplayName
	}
	if p.Aggregator != nil {
		if *p.Aggregator {
			for j := range next {
				next[j].IsAggregator = j == i
			}
		} else {
			t.IsAggregator = false
		}
	}

	if apiErr := api.ValidateTarget(*t); apiErr != nil {
		return api.Target{}, apiErr
	}
	if apiErr := api.ValidateTargets(next); apiErr != nil {
		return api.Target{}, apiErr
	}
	w.targets = next

	if modelChanged {
		w.dispatcher.Transcripts().Drop(id)
		slog.Info("target model switched", "target", id, "model", t.ModelID)
	}
	return *t, nil
}

// Target returns a target by ID.
func (w *Workspace) Target(id string) (api.Target, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i := w.indexOf(id); i >= 0 {
		return w.targets[i], true
	}
	return api.Target{}, false
}

// Targets returns all targets, active first, then ready, then inactive.
// Targets with the same status keep their insertion order.
func (w *Workspace) Targets() []api.Target {
	w.mu.Lock()
	out := slices.Clone(w.targets)
	w.mu.Unlock()

	slices.SortStableFunc(out, func(a, b api.Target) int {
		return a.Status.Rank() - b.Status.Rank()
	})
	return out
}

// Transcript returns a copy of a target's transcript.
func (w *Workspace) Transcript(id string) ([]api.Message, error) {
	if _, ok := w.Target(id); !ok {
		return nil, notFound(id)
	}
	msgs := w.dispatcher.Transcripts().For(id).Snapshot()
	if msgs == nil {
		msgs = []api.Message{}
	}
	return msgs, nil
}

// Submit starts a new round over the active targets and then cancels the
// round started by the previous Submit, if it is still running.
func (w *Workspace) Submit(ctx context.Context, query string, sink dispatch.Sink) (*dispatch.Round, error) {
	r, prev, err := w.start(ctx, query, sink)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		select {
		case <-prev.Done():
		default:
			debug.Log("dispatch", "cancelling previous round", "round", prev.ID, "next", r.ID)
			prev.Cancel()
		}
	}
	return r, nil
}

// start dispatches a round and makes it current. It returns the round it
// replaced. submitMu orders concurrent submissions so each one replaces
// exactly one predecessor.
func (w *Workspace) start(ctx context.Context, query string, sink dispatch.Sink) (r, prev *dispatch.Round, err error) {
	w.submitMu.Lock()
	defer w.submitMu.Unlock()

	w.mu.Lock()
	targets := slices.Clone(w.targets)
	w.mu.Unlock()

	// The sink may call back into the workspace, so w.mu is not held here.
	r, err = w.dispatcher.Submit(ctx, query, targets, sink)
	if err != nil {
		return nil, nil, err
	}

	w.mu.Lock()
	prev = w.current
	w.current = r
	w.live[r.ID] = r
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		<-r.Done()
		w.mu.Lock()
		delete(w.live, r.ID)
		w.mu.Unlock()
	}()
	return r, prev, nil
}

// Round returns a running round by ID.
func (w *Workspace) Round(id string) (*dispatch.Round, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.live[id]
	return r, ok
}

// Cancel stops a running round. It reports false if the round is not
// running.
func (w *Workspace) Cancel(id string) bool {
	r, ok := w.Round(id)
	if ok {
		r.Cancel()
	}
	return ok
}

// Close cancels every running round and waits for them to finish.
func (w *Workspace) Close() {
	w.mu.Lock()
	for _, r := range w.live {
		r.Cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.dispatcher.Wait()
}

// nextID derives "<model>-<n>" where n is one more than the number of
// targets already using the model. w.mu must be held.
func (w *Workspace) nextID(model string) string {
	base := slug(model)
	if base == "" {
		base = "target"
	}
	n := 1
	for _, t := range w.targets {
		if t.ModelID == model {
			n++
		}
	}
	for {
		id := fmt.Sprintf("%s-%d", base, n)
		if w.indexOf(id) < 0 {
			return id
		}
		n++
	}
}

func (w *Workspace) indexOf(id string) int {
	return slices.IndexFunc(w.targets, func(t api.Target) bool { return t.ID == id })
}

// slug lowercases s and replaces every run of characters outside [a-z0-9]
// with a single dash.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func notFound(id string) *api.APIError {
	return api.NewNotFoundError(fmt.Sprintf("target %q not found", id))
}
