package dispatch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/credential/memory"
	"github.com/rhuss/chorus/pkg/provider"
)

// reply scripts one provider call.
type reply struct {
	fragments []string
	err       error           // sent after the fragments, or returned by Complete
	startErr  error           // returned by Stream/Complete before anything else
	wait      <-chan struct{} // held before finishing
	ignoreCtx bool            // keep waiting even after cancellation
	panicMsg  string
}

// mockProvider is a scripted provider that counts its calls.
type mockProvider struct {
	streaming bool
	script    func(req *provider.ProviderRequest) reply

	calls    atomic.Int32
	mu       sync.Mutex
	requests []*provider.ProviderRequest
	firstAt  time.Time
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Capabilities() provider.ProviderCapabilities {
	return provider.ProviderCapabilities{Streaming: m.streaming}
}

func (m *mockProvider) record(req *provider.ProviderRequest) reply {
	m.calls.Add(1)
	m.mu.Lock()
	if len(m.requests) == 0 {
		m.firstAt = time.Now()
	}
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.script == nil {
		return reply{fragments: []string{"ok"}}
	}
	return m.script(req)
}

func (m *mockProvider) Complete(ctx context.Context, req *provider.ProviderRequest) (*provider.ProviderResponse, error) {
	rp := m.record(req)
	if rp.panicMsg != "" {
		panic(rp.panicMsg)
	}
	if rp.startErr != nil {
		return nil, rp.startErr
	}
	if rp.wait != nil {
		select {
		case <-rp.wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if rp.err != nil {
		return nil, rp.err
	}
	return &provider.ProviderResponse{
		Text:  strings.Join(rp.fragments, ""),
		Usage: api.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5},
	}, nil
}

func (m *mockProvider) Stream(ctx context.Context, req *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	rp := m.record(req)
	if rp.panicMsg != "" {
		panic(rp.panicMsg)
	}
	if rp.startErr != nil {
		return nil, rp.startErr
	}

	ch := make(chan provider.ProviderEvent)
	go func() {
		defer close(ch)
		for _, f := range rp.fragments {
			if !provider.Emit(ctx, ch, provider.ProviderEvent{Type: provider.ProviderEventTextDelta, Delta: f}) {
				return
			}
		}
		if rp.wait != nil {
			if rp.ignoreCtx {
				<-rp.wait
			} else {
				select {
				case <-rp.wait:
				case <-ctx.Done():
					return
				}
			}
		}
		if rp.err != nil {
			provider.Emit(ctx, ch, provider.ProviderEvent{Type: provider.ProviderEventError, Err: rp.err})
			return
		}
		provider.Emit(ctx, ch, provider.ProviderEvent{
			Type:  provider.ProviderEventTextDone,
			Usage: &api.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5},
		})
	}()
	return ch, nil
}

func (m *mockProvider) ListModels(context.Context, string) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (m *mockProvider) Close() error { return nil }

func (m *mockProvider) lastRequest(t *testing.T) *provider.ProviderRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("provider was never called")
	}
	return m.requests[len(m.requests)-1]
}

func (m *mockProvider) firstCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstAt
}

func streaming(script func(req *provider.ProviderRequest) reply) *mockProvider {
	return &mockProvider{streaming: true, script: script}
}

func fixed(fragments ...string) *mockProvider {
	return streaming(func(*provider.ProviderRequest) reply { return reply{fragments: fragments} })
}

// event is one notification seen by recordingSink.
type event struct {
	kind        string
	placeholder string
	text        string
	outcome     api.BranchOutcome
	outcomes    []api.BranchOutcome
	at          time.Time
}

// recordingSink implements Sink and Observer and keeps every notification
// in arrival order.
type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) add(e event) {
	e.at = time.Now()
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) OnAppend(id, text string) {
	s.add(event{kind: "append", placeholder: id, text: text})
}

func (s *recordingSink) OnTerminal(id string, o api.BranchOutcome) {
	s.add(event{kind: "terminal", placeholder: id, outcome: o})
}

func (s *recordingSink) OnRoundStarted(r *Round) {
	s.add(event{kind: "started"})
}

func (s *recordingSink) OnJoined(outcomes []api.BranchOutcome) {
	s.add(event{kind: "joined", outcomes: outcomes})
}

func (s *recordingSink) OnSynthesisStarted(id string, _ api.Target) {
	s.add(event{kind: "synthesis", placeholder: id})
}

func (s *recordingSink) OnRoundFinished(api.RoundRecord) {
	s.add(event{kind: "finished"})
}

func (s *recordingSink) all() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *recordingSink) appends(id string) []string {
	var out []string
	for _, e := range s.all() {
		if e.kind == "append" && e.placeholder == id {
			out = append(out, e.text)
		}
	}
	return out
}

func (s *recordingSink) terminals(id string) []api.BranchOutcome {
	var out []api.BranchOutcome
	for _, e := range s.all() {
		if e.kind == "terminal" && e.placeholder == id {
			out = append(out, e.outcome)
		}
	}
	return out
}

func (s *recordingSink) indexOf(kind, id string) int {
	for i, e := range s.all() {
		if e.kind == kind && (id == "" || e.placeholder == id) {
			return i
		}
	}
	return -1
}

// fakeArchive collects saved round records.
type fakeArchive struct {
	mu      sync.Mutex
	records []api.RoundRecord
}

func (a *fakeArchive) SaveRound(_ context.Context, r *api.RoundRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, *r)
	return nil
}

func target(id, providerID string, status api.TargetStatus) api.Target {
	return api.Target{
		ID:          id,
		ProviderID:  providerID,
		ModelID:     id + "-model",
		DisplayName: strings.ToUpper(id),
		Status:      status,
	}
}

func aggregator(id, providerID string, status api.TargetStatus) api.Target {
	t := target(id, providerID, status)
	t.IsAggregator = true
	return t
}

// newTestDispatcher registers providers under their map keys and stores a
// credential for every provider listed in keys.
func newTestDispatcher(t *testing.T, providers map[string]provider.Provider, keys []string, cfg Config) *Dispatcher {
	t.Helper()
	reg := provider.NewRegistry()
	for id, p := range providers {
		if err := reg.Register(id, p); err != nil {
			t.Fatal(err)
		}
	}
	creds := memory.New(0)
	for _, id := range keys {
		creds.Put(context.Background(), id, "key-"+id)
	}
	d, err := New(reg, creds, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Wait)
	return d
}

func waitDone(t *testing.T, r *Round) api.RoundRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("round %s did not finish: %v", r.ID, err)
	}
	return rec
}

// stallingSink records like recordingSink but holds every OnAppend whose
// text equals stall until unblock is called.
type stallingSink struct {
	recordingSink
	stall   string
	entered chan struct{}
	release chan struct{}
	enter   sync.Once
	free    sync.Once
}

func newStallingSink(t *testing.T, stall string) *stallingSink {
	s := &stallingSink{
		stall:   stall,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	t.Cleanup(s.unblock)
	return s
}

func (s *stallingSink) OnAppend(id, text string) {
	if text == s.stall {
		s.enter.Do(func() { close(s.entered) })
		<-s.release
	}
	s.recordingSink.OnAppend(id, text)
}

func (s *stallingSink) unblock() {
	s.free.Do(func() { close(s.release) })
}

func (s *stallingSink) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sink callback was never reached")
	}
}
