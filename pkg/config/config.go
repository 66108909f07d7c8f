// Package config provides unified configuration for the chorus server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CHORUS_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"time"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/catalog"
)

// Config holds all configuration for the chorus server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     []ProviderConfig    `yaml:"providers"`
	Targets       []TargetConfig      `yaml:"targets"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Observability ObservabilityConfig `yaml:"observability"`
	MCP           MCPConfig           `yaml:"mcp"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 0 (streams are unbounded)
	MaxBodySize  int64         `yaml:"max_body_size"` // default: 1 MiB
}

// ProviderConfig describes one backend the server can dispatch to.
type ProviderConfig struct {
	ID           string        `yaml:"id" json:"id"`
	Type         string        `yaml:"type" json:"type"` // openai, xai, anthropic, google, openaicompat
	DisplayName  string        `yaml:"display_name" json:"display_name"`
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	APIKey       string        `yaml:"api_key" json:"api_key"`           // seeds the credential store
	APIKeyFile   string        `yaml:"api_key_file" json:"api_key_file"` // _file variant for api_key
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	Models       []string      `yaml:"models" json:"models"`
	DefaultModel string        `yaml:"default_model" json:"default_model"`
}

// CatalogEntry converts the provider settings into a catalog entry.
func (p ProviderConfig) CatalogEntry() catalog.Provider {
	return catalog.Provider{
		ID:           p.ID,
		Type:         p.Type,
		DisplayName:  p.DisplayName,
		BaseURL:      p.BaseURL,
		Timeout:      p.Timeout,
		DefaultModel: p.DefaultModel,
		Models:       p.Models,
	}
}

// TargetConfig describes a target created at startup.
type TargetConfig struct {
	ID          string `yaml:"id" json:"id"`
	Provider    string `yaml:"provider" json:"provider"`
	Model       string `yaml:"model" json:"model"`
	DisplayName string `yaml:"display_name" json:"display_name"`
	Status      string `yaml:"status" json:"status"` // default: active
	Aggregator  bool   `yaml:"aggregator" json:"aggregator"`
}

// Target converts the settings into an api.Target.
func (t TargetConfig) Target() api.Target {
	return api.Target{
		ID:           t.ID,
		ProviderID:   t.Provider,
		ModelID:      t.Model,
		DisplayName:  t.DisplayName,
		Status:       api.TargetStatus(t.Status),
		IsAggregator: t.Aggregator,
	}
}

// CatalogConfig points at an external provider catalog.
type CatalogConfig struct {
	File  string `yaml:"file"`  // optional YAML catalog replacing providers
	Watch bool   `yaml:"watch"` // reload the file when it changes
}

// CredentialsConfig selects the credential store.
type CredentialsConfig struct {
	Type           string         `yaml:"type"`         // "memory" or "postgres", default: "memory"
	IdleTimeout    time.Duration  `yaml:"idle_timeout"` // memory store, default: 8h, 0 = never
	SealingKey     string         `yaml:"sealing_key"`
	SealingKeyFile string         `yaml:"sealing_key_file"` // _file variant for sealing_key
	Postgres       PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 4
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// DispatchConfig holds the prompts added around every round.
type DispatchConfig struct {
	SystemPrompt    string `yaml:"system_prompt"`
	SynthesisPrompt string `yaml:"synthesis_prompt"`
}

// ArchiveConfig sizes the in-memory archive of finished rounds.
type ArchiveConfig struct {
	MaxRounds int `yaml:"max_rounds"` // default: 1000, 0 = unlimited
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// TracingConfig holds OpenTelemetry export settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`     // OTLP/HTTP endpoint, host:port
	ServiceName string `yaml:"service_name"` // default: "chorus"
}

// MCPConfig holds the MCP tool endpoint settings.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/mcp"
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // TRACE, DEBUG, INFO, WARN, ERROR
	Debug  string `yaml:"debug"`  // comma-separated debug categories
	Format string `yaml:"format"` // "text" or "json"
}

// Defaults returns a Config with all default values filled in. The
// default providers are the four public APIs with their built-in
// endpoints.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			ReadTimeout: 30 * time.Second,
			MaxBodySize: 1 << 20,
		},
		Providers: []ProviderConfig{
			{ID: "openai", Type: catalog.TypeOpenAI, DisplayName: "OpenAI"},
			{ID: "anthropic", Type: catalog.TypeAnthropic, DisplayName: "Anthropic"},
			{ID: "xai", Type: catalog.TypeXAI, DisplayName: "xAI"},
			{ID: "google", Type: catalog.TypeGoogle, DisplayName: "Google"},
		},
		Credentials: CredentialsConfig{
			Type:        "memory",
			IdleTimeout: 8 * time.Hour,
			Postgres: PostgresConfig{
				MaxConns: 4,
			},
		},
		Archive: ArchiveConfig{
			MaxRounds: 1000,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				ServiceName: "chorus",
			},
		},
		MCP: MCPConfig{
			Enabled: true,
			Path:    "/mcp",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
