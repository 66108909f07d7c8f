package config

import (
	"errors"
	"fmt"

	"github.com/rhuss/chorus/pkg/api"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Credentials.Type {
	case "memory":
	case "postgres":
		if c.Credentials.Postgres.DSN == "" && c.Credentials.Postgres.DSNFile == "" {
			errs = append(errs, errors.New("credentials.postgres.dsn or credentials.postgres.dsn_file is required when credentials.type is \"postgres\""))
		}
		if c.Credentials.SealingKey == "" && c.Credentials.SealingKeyFile == "" {
			errs = append(errs, errors.New("credentials.sealing_key or credentials.sealing_key_file is required when credentials.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("credentials.type must be \"memory\" or \"postgres\", got %q", c.Credentials.Type))
	}
	if c.Credentials.IdleTimeout < 0 {
		errs = append(errs, errors.New("credentials.idle_timeout must not be negative"))
	}

	known := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		entry := p.CatalogEntry()
		if err := entry.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("providers[%d]: %w", i, err))
			continue
		}
		if known[p.ID] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate provider id %q", i, p.ID))
		}
		known[p.ID] = true
	}

	targets := make([]api.Target, 0, len(c.Targets))
	for i, t := range c.Targets {
		// Providers may come from the catalog file, which is read later.
		if c.Catalog.File == "" && !known[t.Provider] {
			errs = append(errs, fmt.Errorf("targets[%d]: unknown provider %q", i, t.Provider))
		}
		if t.Status != "" && !api.TargetStatus(t.Status).Valid() {
			errs = append(errs, fmt.Errorf("targets[%d]: status must be active, ready or inactive, got %q", i, t.Status))
		}
		tgt := t.Target()
		if tgt.Status == "" {
			tgt.Status = api.TargetStatusActive
		}
		targets = append(targets, tgt)
	}
	if countActiveAggregators(targets) > 1 {
		errs = append(errs, errors.New("targets: at most one active target may be the aggregator"))
	}

	if c.Catalog.Watch && c.Catalog.File == "" {
		errs = append(errs, errors.New("catalog.watch requires catalog.file"))
	}
	if c.Archive.MaxRounds < 0 {
		errs = append(errs, errors.New("archive.max_rounds must not be negative"))
	}
	if c.Observability.Tracing.Enabled && c.Observability.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("observability.tracing.endpoint is required when tracing is enabled"))
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func countActiveAggregators(targets []api.Target) int {
	n := 0
	for _, t := range targets {
		if t.IsAggregator && t.Active() {
			n++
		}
	}
	return n
}
