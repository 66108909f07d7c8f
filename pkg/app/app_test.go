package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/catalog"
	"github.com/rhuss/chorus/pkg/config"
	credmemory "github.com/rhuss/chorus/pkg/credential/memory"
	"github.com/rhuss/chorus/pkg/provider"
)

// chatBackend streams a fixed answer per model over Chat Completions SSE.
func chatBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
			return
		}
		var req struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		answer := "answer from " + req.Model

		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, answer)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", answer)
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Providers = []config.ProviderConfig{
		{ID: "local", Type: catalog.TypeOpenAICompat, BaseURL: baseURL, APIKey: "sk-test", DefaultModel: "m1"},
	}
	cfg.Targets = []config.TargetConfig{
		{ID: "one", Provider: "local", Model: "m1"},
		{ID: "two", Provider: "local", Model: "m2"},
		{ID: "judge", Provider: "local", Model: "judge-model", Aggregator: true},
	}
	cfg.Server.Port = 0
	return &cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func TestNew_WiresComponents(t *testing.T) {
	a := newApp(t, testConfig("http://127.0.0.1:1"))

	if ids := a.Registry.IDs(); len(ids) != 1 || ids[0] != "local" {
		t.Errorf("registry IDs = %v", ids)
	}
	if key, err := a.Credentials.Lookup(context.Background(), "local"); err != nil || key != "sk-test" {
		t.Errorf("seeded credential = %q, %v", key, err)
	}
	if got := len(a.Workspace.Targets()); got != 3 {
		t.Errorf("targets = %d, want 3", got)
	}
	if a.MCP == nil {
		t.Error("MCP server not created")
	}
}

func TestSeedCredentials_SurviveIdleTimeout(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := credmemory.New(8*time.Hour, credmemory.WithClock(func() time.Time { return now }))

	providers := []config.ProviderConfig{
		{ID: "openai", APIKey: "sk-openai"},
		{ID: "xai"},
	}
	if err := seedCredentials(ctx, store, providers); err != nil {
		t.Fatal(err)
	}

	now = now.Add(9 * time.Hour)
	if key, err := store.Lookup(ctx, "openai"); err != nil || key != "sk-openai" {
		t.Errorf("configured key after idle period = %q, %v", key, err)
	}
	if _, err := store.Lookup(ctx, "xai"); err == nil {
		t.Error("provider without a configured key should have no credential")
	}
}

func TestNew_MCPDisabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.MCP.Enabled = false
	a := newApp(t, cfg)
	if a.MCP != nil {
		t.Error("MCP server created although disabled")
	}

	rec := httptest.NewRecorder()
	a.Server.Adapter().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("/mcp status = %d", rec.Code)
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "unknown credential type",
			mutate: func(c *config.Config) { c.Credentials.Type = "vault" },
			want:   "unknown credential store type",
		},
		{
			name:   "target with unknown provider",
			mutate: func(c *config.Config) { c.Targets = []config.TargetConfig{{ID: "x", Provider: "nope", Model: "m"}} },
			want:   `adding target "x"`,
		},
		{
			name:   "missing catalog file",
			mutate: func(c *config.Config) { c.Catalog.File = filepath.Join(os.TempDir(), "does-not-exist.yaml") },
			want:   "loading catalog",
		},
		{
			name:   "postgres without sealing key",
			mutate: func(c *config.Config) { c.Credentials.Type = "postgres" },
			want:   "creating sealer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://127.0.0.1:1")
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRound_EndToEnd(t *testing.T) {
	backend := chatBackend(t)
	a := newApp(t, testConfig(backend.URL))

	srv := httptest.NewServer(a.Server.Adapter().Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/rounds", "application/json", strings.NewReader(`{"query":"hello"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var rec api.RoundRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.Status != api.RoundStatusCompleted {
		t.Errorf("status = %s", rec.Status)
	}
	if len(rec.Outcomes) != 2 {
		t.Fatalf("outcomes = %+v", rec.Outcomes)
	}
	for i, want := range []string{"answer from m1", "answer from m2"} {
		if rec.Outcomes[i].Text != want || !rec.Outcomes[i].Succeeded() {
			t.Errorf("outcome %d = %+v", i, rec.Outcomes[i])
		}
	}
	if rec.Synthesis == nil || rec.Synthesis.Text != "answer from judge-model" {
		t.Errorf("synthesis = %+v", rec.Synthesis)
	}

	// The finished round is archived.
	get, err := http.Get(srv.URL + "/v1/rounds/" + rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Errorf("GET archived round status = %d", get.StatusCode)
	}
}

func TestRun_StopsOnContext(t *testing.T) {
	a := newApp(t, testConfig("http://127.0.0.1:1"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRegisterNew(t *testing.T) {
	reg := provider.NewRegistry()
	registerNew(reg, []catalog.Provider{
		{ID: "a", Type: catalog.TypeOpenAI},
		{ID: "bad", Type: "nonsense"},
	})
	registerNew(reg, []catalog.Provider{
		{ID: "a", Type: catalog.TypeOpenAI},
		{ID: "b", Type: catalog.TypeAnthropic},
	})

	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("IDs = %v, want [a b]", ids)
	}
}
