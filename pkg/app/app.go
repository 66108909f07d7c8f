// Package app assembles a chorus server from a loaded configuration.
//
// It is shared by cmd/server and the "serve" command of cmd/chorus so both
// binaries wire the catalog, credential store, dispatcher, workspace,
// engine, MCP tools and HTTP transport the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rhuss/chorus/pkg/catalog"
	"github.com/rhuss/chorus/pkg/config"
	"github.com/rhuss/chorus/pkg/credential"
	credmemory "github.com/rhuss/chorus/pkg/credential/memory"
	"github.com/rhuss/chorus/pkg/credential/postgres"
	"github.com/rhuss/chorus/pkg/debug"
	"github.com/rhuss/chorus/pkg/dispatch"
	"github.com/rhuss/chorus/pkg/engine"
	"github.com/rhuss/chorus/pkg/mcpserver"
	"github.com/rhuss/chorus/pkg/observability"
	"github.com/rhuss/chorus/pkg/provider"
	"github.com/rhuss/chorus/pkg/storage/memory"
	transporthttp "github.com/rhuss/chorus/pkg/transport/http"
	"github.com/rhuss/chorus/pkg/workspace"
)

// App is a fully wired chorus server.
type App struct {
	Config      *config.Config
	Catalog     *catalog.Catalog
	Registry    *provider.Registry
	Credentials credential.Store
	Archive     *memory.Store
	Dispatcher  *dispatch.Dispatcher
	Workspace   *workspace.Workspace
	Engine      *engine.Engine
	MCP         *mcpserver.Server
	Server      *transporthttp.Server

	shutdownTracing func(context.Context) error
}

// New builds every component described by cfg. The returned App owns the
// credential store, the provider clients and the tracer provider; Close
// releases them.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.shutdownTracing, err = observability.SetupTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	if a.Catalog, err = buildCatalog(cfg); err != nil {
		return nil, err
	}
	a.Registry = provider.NewRegistry()
	if err = a.Catalog.Register(a.Registry); err != nil {
		return nil, fmt.Errorf("creating provider clients: %w", err)
	}

	if a.Credentials, err = buildCredentials(ctx, cfg.Credentials); err != nil {
		return nil, err
	}
	if err = seedCredentials(ctx, a.Credentials, cfg.Providers); err != nil {
		return nil, err
	}

	a.Archive = memory.New(cfg.Archive.MaxRounds)
	a.Dispatcher, err = dispatch.New(a.Registry, a.Credentials, dispatch.Config{
		SystemPrompt:    cfg.Dispatch.SystemPrompt,
		SynthesisPrompt: cfg.Dispatch.SynthesisPrompt,
		Archive:         a.Archive,
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	a.Workspace = workspace.New(a.Dispatcher, a.Catalog)
	for _, t := range cfg.Targets {
		if _, err = a.Workspace.Add(t.Target()); err != nil {
			return nil, fmt.Errorf("adding target %q: %w", t.ID, err)
		}
	}

	if a.Engine, err = engine.New(a.Workspace, a.Archive); err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	svc := transporthttp.Services{
		Rounds:      a.Engine,
		Targets:     a.Workspace,
		Catalog:     a.Catalog,
		Credentials: a.Credentials,
	}
	if cfg.MCP.Enabled {
		if a.MCP, err = mcpserver.New(a.Engine, a.Workspace); err != nil {
			return nil, fmt.Errorf("creating MCP server: %w", err)
		}
		svc.MCP = a.MCP.Handler()
	}

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}
	a.Server = transporthttp.NewServer(svc,
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithMetricsPath(metricsPath),
		transporthttp.WithMCPPath(cfg.MCP.Path),
	)

	return a, nil
}

// Run serves HTTP until ctx is done. When the catalog comes from a file
// with watch enabled, the file is reloaded on change for as long as Run
// is serving.
func (a *App) Run(ctx context.Context) error {
	if a.Config.Catalog.File != "" && a.Config.Catalog.Watch {
		err := a.Catalog.Watch(ctx, a.Config.Catalog.File, func(entries []catalog.Provider) {
			registerNew(a.Registry, entries)
		})
		if err != nil {
			return err
		}
	}

	slog.Info("chorus starting",
		"port", a.Config.Server.Port,
		"providers", a.Registry.IDs(),
		"targets", len(a.Workspace.Targets()),
		"credentials", a.Config.Credentials.Type,
		"mcp", a.MCP != nil,
		"debug", debug.Categories(),
	)
	return a.Server.Run(ctx)
}

// Close stops running rounds and releases every owned resource.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Workspace != nil {
		a.Workspace.Close()
	}
	if a.Archive != nil {
		errs = append(errs, a.Archive.Close())
	}
	if a.Credentials != nil {
		errs = append(errs, a.Credentials.Close())
	}
	if a.Registry != nil {
		errs = append(errs, a.Registry.Close())
	}
	if a.shutdownTracing != nil {
		errs = append(errs, a.shutdownTracing(ctx))
	}
	return errors.Join(errs...)
}

func buildCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	var entries []catalog.Provider
	if cfg.Catalog.File != "" {
		loaded, err := catalog.Load(cfg.Catalog.File)
		if err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
		entries = loaded
	} else {
		for _, p := range cfg.Providers {
			entries = append(entries, p.CatalogEntry())
		}
	}
	c, err := catalog.New(entries)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}
	return c, nil
}

func buildCredentials(ctx context.Context, cfg config.CredentialsConfig) (credential.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return credmemory.New(cfg.IdleTimeout), nil
	case "postgres":
		sealer, err := credential.NewSealer(cfg.SealingKey)
		if err != nil {
			return nil, fmt.Errorf("creating sealer: %w", err)
		}
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		}, sealer)
		if err != nil {
			return nil, fmt.Errorf("creating postgres credential store: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown credential store type %q", cfg.Type)
}

// pinner is implemented by stores that can hold a secret outside idle
// expiry.
type pinner interface {
	Pin(providerID, secret string)
}

// seedCredentials stores the API keys given in the configuration. Stores
// that support it pin them so idle expiry never drops them.
func seedCredentials(ctx context.Context, store credential.Store, providers []config.ProviderConfig) error {
	pin, _ := store.(pinner)
	for _, p := range providers {
		if p.APIKey == "" {
			continue
		}
		if pin != nil {
			pin.Pin(p.ID, p.APIKey)
			continue
		}
		if err := store.Put(ctx, p.ID, p.APIKey); err != nil {
			return fmt.Errorf("storing credential for %q: %w", p.ID, err)
		}
	}
	return nil
}

// registerNew creates clients for catalog entries the registry does not
// know yet. Existing clients keep their settings until restart.
func registerNew(reg *provider.Registry, entries []catalog.Provider) {
	for _, p := range entries {
		if _, ok := reg.Lookup(p.ID); ok {
			continue
		}
		client, err := catalog.NewClient(p)
		if err != nil {
			slog.Warn("catalog provider skipped", "provider", p.ID, "error", err)
			continue
		}
		if err := reg.Register(p.ID, client); err != nil {
			slog.Warn("catalog provider skipped", "provider", p.ID, "error", err)
			continue
		}
		slog.Info("provider registered", "provider", p.ID, "type", p.Type)
	}
}
