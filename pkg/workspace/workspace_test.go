package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/credential/memory"
	"github.com/rhuss/chorus/pkg/dispatch"
	"github.com/rhuss/chorus/pkg/provider"
)

// echoProvider answers with the last user message. With block set it waits
// for cancellation instead.
type echoProvider struct {
	block bool
}

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) Capabilities() provider.ProviderCapabilities {
	return provider.ProviderCapabilities{}
}

func (p *echoProvider) Complete(ctx context.Context, req *provider.ProviderRequest) (*provider.ProviderResponse, error) {
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &provider.ProviderResponse{Text: "echo: " + req.Messages[len(req.Messages)-1].Content}, nil
}

func (p *echoProvider) Stream(context.Context, *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	return nil, errors.New("not supported")
}

func (p *echoProvider) ListModels(context.Context, string) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *echoProvider) Close() error { return nil }

type stubModels map[string]string

func (m stubModels) DefaultModel(id string) (string, bool) {
	v, ok := m[id]
	return v, ok
}

func (m stubModels) HasProvider(id string) bool {
	_, ok := m[id]
	return ok
}

func newWorkspace(t *testing.T, p provider.Provider) *Workspace {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register("openai", p)
	reg.Register("anthropic", p)

	creds := memory.New(0)
	creds.Put(context.Background(), "openai", "sk-test")
	creds.Put(context.Background(), "anthropic", "sk-ant-test")

	d, err := dispatch.New(reg, creds, dispatch.Config{})
	if err != nil {
		t.Fatal(err)
	}
	ws := New(d, stubModels{"openai": "gpt-4o", "anthropic": "claude-3-5-sonnet-20240620"})
	t.Cleanup(ws.Close)
	return ws
}

func mustAdd(t *testing.T, ws *Workspace, tgt api.Target) api.Target {
	t.Helper()
	got, err := ws.Add(tgt)
	if err != nil {
		t.Fatalf("Add(%+v): %v", tgt, err)
	}
	return got
}

func TestAdd_DerivesIDAndDefaults(t *testing.T) {
	ws := newWorkspace(t, &echoProvider{})

	first := mustAdd(t, ws, api.Target{ProviderID: "openai"})
	if first.ModelID != "gpt-4o" {
		t.Errorf("ModelID = %q, want provider default", first.ModelID)
	}
	if first.ID != "gpt-4o-1" {
		t.Errorf("ID = %q, want gpt-4o-1", first.ID)
	}
	if first.Status != api.TargetStatusActive {
		t.Errorf("Status = %q, want active", first.Status)
	}

	second := mustAdd(t, ws, api.Target{ProviderID: "openai", ModelID: "gpt-4o"})
	if second.ID != "gpt-4o-2" {
		t.Errorf("ID = %q, want gpt-4o-2", second.ID)
	}

	claude := mustAdd(t, ws, api.Target{ProviderID: "anthropic", ModelID: "Claude 3.5 Sonnet"})
	if claude.ID != "claude-3-5-sonnet-1" {
		t.Errorf("ID = %q, want claude-3-5-sonnet-1", claude.ID)
	}
}

func TestAdd_Rejects(t *testing.T) {
	ws := newWorkspace(t, &echoProvider{})
	mustAdd(t, ws, api.Target{ID: "judge", ProviderID: "anthropic", IsAggregator: true})

	tests := []struct {
		name   string
		target api.Target
		param  string
	}{
		{"no provider", api.Target{ID: "x"}, "provider"},
		{"unknown provider", api.Target{ProviderID: "mistral"}, "provider"},
		{"duplicate id", api.Target{ID: "judge", ProviderID: "openai"}, "id"},
		{"second active aggregator", api.Target{ID: "judge2", ProviderID: "openai", IsAggregator: true}, "aggregator"},
		{"bad status", api.Target{ProviderID: "openai", Status: "paused"}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ws.Add(tt.target)
			var apiErr *api.APIError
			if !errors.As(err, &apiErr) || apiErr.Param != tt.param {
				t.Errorf("err = %v, want invalid %q", err, tt.param)
			}
		})
	}

	// An inactive second aggregator is allowed.
	mustAdd(t, ws, api.Target{ID: "judge3", ProviderID: "openai", IsAggregator: true, Status: api.TargetStatusInactive})
}

func TestTargets_SortedByStatus(t *testing.T) {
	ws := newWorkspace(t, &echoProvider{})
	mustAdd(t, ws, api.Target{ID: "i1", ProviderID: "openai", Status: api.TargetStatusInactive})
	mustAdd(t, ws, api.Target{ID: "a1", ProviderID: "openai", Status: api.TargetStatusActive})
	mustAdd(t, ws, api.Target{ID: "r1", ProviderID: "openai", Status: api.TargetStatusReady})
	mustAdd(t, ws, api.Target{ID: "a2", ProviderID: "openai", Status: api.TargetStatusActive})

	var got []string
	for _, tgt := range ws.Targets() {
		got = append(got, tgt.ID)
	}
	want := []string{"a1", "a2", "r1", "i1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSwitchModel_ClearsTranscript(t *testing.T) {
	ws := newWorkspace(t, &echoProvider{})
	mustAdd(t, ws, api.Target{ID: "a", ProviderID: "openai"})

	r, err := ws.Submit(context.Background(), "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	<-r.Done()

	msgs, _ := ws.Transcript("a")
	if len(msgs) != 2 || msgs[1].Content != "echo: hello" {
		t.Fatalf("transcript = %+v", msgs)
	}

	// Same model keeps the transcript.
	ws.SwitchModel("a", "gpt-4o")
	if msgs, _ := ws.Transcript("a"); len(msgs) != 2 {
		t.Error("switching to the same model cleared the transcript")
	}

	updated, err := ws.SwitchModel("a", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	if updated.ModelID != "gpt-4o-mini" {
		t.Errorf("ModelID = %q", updated.ModelID)
	}
	if msgs, _ := ws.Transcript("a"); len(msgs) != 0 {
		t.Errorf("transcript not cleared: %+v", msgs)
	}
}

func TestSetAggregator_SingleFlag(t *testing.T) {
	ws := newWorkspace(t, &echoProvider{})
	mustAdd(t, ws, api.Target{ID: "a", ProviderID: "openai", IsAggregator: true})
	mustAdd(t, ws, api.Target{ID: "b", ProviderID: "anthropic"})

	if err := ws.SetAggregator("b"); err != nil {
		t.Fatal(err)
	}
	a, _ := ws.Target("a")
	b, _ := ws.Target("b")
	if a.IsAggregator || !b.IsAggregator {
		t.Errorf("a=%v b=%v", a.IsAggregator, b.IsAggregator)
	}

	yes := true
	if _, err := ws.Update("a", Patch{Aggregator: &yes}); err != nil {
		t.Fatal(err)
	}
	b, _ = ws.Target("b")
	if b.IsAggregator {
		t.Error("Update did not move the aggregator flag")
	}

	if err := ws.SetAggregator(""); err != nil {
		t.Fatal(err)
	}
	for _, tgt := range ws.Targets() {
		if tgt.IsAggregator {
			t.Errorf("%s still aggregator", tgt.ID)
		}
	}
	if err := ws.SetAggregator("missing"); err == nil {
		t.Error("expected not found")
	}
}

func TestSetStatus(t *testing.T) {
	ws := newWorkspace(t, &echoProvider{})
	mustAdd(t, ws, api.Target{ID: "a", ProviderID: "openai"})

	got, err := ws.SetStatus("a", api.TargetStatusInactive)
	if err != nil || got.Status != api.TargetStatusInactive {
		t.Fatalf("SetStatus = %+v, %v", got, err)
	}
	if _, err := ws.SetStatus("a", "bogus"); err == nil {
		t.Error("expected error for unknown status")
	}
	if tgt, _ := ws.Target("a"); tgt.Status != api.TargetStatusInactive {
		t.Error("failed update changed the target")
	}
}

func TestRemove(t *testing.T) {
	ws := newWorkspace(t, &echoProvider{})
	mustAdd(t, ws, api.Target{ID: "a", ProviderID: "openai"})

	if err := ws.Remove("a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := ws.Target("a"); ok {
		t.Error("target still present")
	}
	if _, err := ws.Transcript("a"); err == nil {
		t.Error("expected not found for removed target transcript")
	}
	var apiErr *api.APIError
	if err := ws.Remove("a"); !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeNotFound {
		t.Errorf("second Remove = %v", err)
	}
}

func TestSubmit_CancelsPreviousRound(t *testing.T) {
	ws := newWorkspace(t, &echoProvider{block: true})
	mustAdd(t, ws, api.Target{ID: "a", ProviderID: "openai"})

	first, err := ws.Submit(context.Background(), "one", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ws.Round(first.ID); !ok {
		t.Error("running round not tracked")
	}

	second, err := ws.Submit(context.Background(), "two", nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := first.Wait(ctx)
	if err != nil {
		t.Fatalf("first round did not finish: %v", err)
	}
	if rec.Status != api.RoundStatusCancelled {
		t.Errorf("first round status = %q, want cancelled", rec.Status)
	}

	if !ws.Cancel(second.ID) {
		t.Error("Cancel of running round returned false")
	}
	if _, err := second.Wait(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestSubmit_NotBlockedByStuckSink(t *testing.T) {
	ws := newWorkspace(t, &echoProvider{})
	mustAdd(t, ws, api.Target{ID: "a", ProviderID: "openai"})

	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce, releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	stuck := dispatch.SinkFuncs{Append: func(string, string) {
		enterOnce.Do(func() { close(entered) })
		<-release
	}}
	first, err := ws.Submit(context.Background(), "one", stuck)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sink never called")
	}

	submitted := make(chan error, 1)
	go func() {
		_, err := ws.Submit(context.Background(), "two", nil)
		submitted <- err
	}()
	select {
	case err := <-submitted:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Submit blocked behind the previous round's sink")
	}

	unblock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := first.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != api.RoundStatusCancelled {
		t.Errorf("first round status = %q, want cancelled", rec.Status)
	}
}

func TestSubmit_ValidationError(t *testing.T) {
	ws := newWorkspace(t, &echoProvider{})
	if _, err := ws.Submit(context.Background(), "", nil); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"gpt-4o":                "gpt-4o",
		"Claude 3.5 Sonnet":     "claude-3-5-sonnet",
		"models/gemini-1.5-pro": "models-gemini-1-5-pro",
		"  --weird__name!!  ":   "weird-name",
		"grok-2-1212":           "grok-2-1212",
	}
	for in, want := range tests {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
