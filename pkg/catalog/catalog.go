// Package catalog describes the providers chorus can dispatch to: their
// adapter type, endpoint, default model and the models offered for new
// targets. A catalog can be loaded from a YAML file and reloaded when the
// file changes.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/chorus/pkg/provider"
	"github.com/rhuss/chorus/pkg/provider/anthropic"
	"github.com/rhuss/chorus/pkg/provider/google"
	"github.com/rhuss/chorus/pkg/provider/openai"
	"github.com/rhuss/chorus/pkg/provider/xai"
)

// Adapter types.
const (
	TypeOpenAI       = "openai"
	TypeXAI          = "xai"
	TypeAnthropic    = "anthropic"
	TypeGoogle       = "google"
	TypeOpenAICompat = "openaicompat"
)

// Provider is one catalog entry.
type Provider struct {
	ID           string        `yaml:"id" json:"id"`
	Type         string        `yaml:"type" json:"type"`
	DisplayName  string        `yaml:"display_name" json:"display_name,omitempty"`
	BaseURL      string        `yaml:"base_url" json:"-"`
	Timeout      time.Duration `yaml:"timeout" json:"-"`
	DefaultModel string        `yaml:"default_model" json:"default_model,omitempty"`
	Models       []string      `yaml:"models" json:"models"`
}

// File is the on-disk catalog layout.
type File struct {
	Providers []Provider `yaml:"providers"`
}

// DefaultModelFor returns the built-in default model of an adapter type.
func DefaultModelFor(typ string) string {
	switch typ {
	case TypeOpenAI:
		return openai.DefaultModel
	case TypeXAI:
		return xai.DefaultModel
	case TypeAnthropic:
		return anthropic.DefaultModel
	case TypeGoogle:
		return google.DefaultModel
	}
	return ""
}

// Normalize fills in defaults and checks an entry.
func (p *Provider) Normalize() error {
	if p.ID == "" {
		return errors.New("provider id is required")
	}
	if p.Type == "" {
		p.Type = p.ID
	}
	switch p.Type {
	case TypeOpenAI, TypeXAI, TypeAnthropic, TypeGoogle:
	case TypeOpenAICompat:
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required for type %q", p.ID, p.Type)
		}
	default:
		return fmt.Errorf("provider %q: unknown type %q", p.ID, p.Type)
	}
	if p.DefaultModel == "" {
		p.DefaultModel = DefaultModelFor(p.Type)
		if p.DefaultModel == "" && len(p.Models) > 0 {
			p.DefaultModel = p.Models[0]
		}
	}
	if p.DefaultModel != "" && !slices.Contains(p.Models, p.DefaultModel) {
		p.Models = append([]string{p.DefaultModel}, p.Models...)
	}
	if p.DisplayName == "" {
		p.DisplayName = p.ID
	}
	return nil
}

// Catalog is a concurrency-safe, replaceable set of providers.
type Catalog struct {
	mu        sync.RWMutex
	providers []Provider
}

// New builds a catalog from entries. Entries are normalized; duplicate IDs
// are an error.
func New(entries []Provider) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(entries); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace swaps the catalog contents. On error the catalog is unchanged.
func (c *Catalog) Replace(entries []Provider) error {
	next := make([]Provider, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	var errs []error
	for _, p := range entries {
		p.Models = slices.Clone(p.Models)
		if err := p.Normalize(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate provider id %q", p.ID))
			continue
		}
		seen[p.ID] = true
		next = append(next, p)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.mu.Lock()
	c.providers = next
	c.mu.Unlock()
	return nil
}

// Providers returns a copy of every entry in catalog order.
func (c *Catalog) Providers() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Provider, len(c.providers))
	for i, p := range c.providers {
		p.Models = slices.Clone(p.Models)
		out[i] = p
	}
	return out
}

// Provider returns one entry.
func (c *Catalog) Provider(id string) (Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.providers {
		if p.ID == id {
			p.Models = slices.Clone(p.Models)
			return p, true
		}
	}
	return Provider{}, false
}

// HasProvider reports whether id is in the catalog.
func (c *Catalog) HasProvider(id string) bool {
	_, ok := c.Provider(id)
	return ok
}

// DefaultModel returns the model used for new targets of a provider.
func (c *Catalog) DefaultModel(id string) (string, bool) {
	p, ok := c.Provider(id)
	if !ok || p.DefaultModel == "" {
		return "", false
	}
	return p.DefaultModel, true
}

// Load reads a catalog file.
func Load(path string) ([]Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return f.Providers, nil
}

// NewClient creates the provider adapter for an entry. Model lists are a
// menu for new targets, not an allowlist, so adapters accept any model.
func NewClient(p Provider) (provider.Provider, error) {
	switch p.Type {
	case TypeOpenAI, TypeOpenAICompat:
		return openai.New(openai.Config{BaseURL: p.BaseURL, Timeout: p.Timeout})
	case TypeXAI:
		return xai.New(xai.Config{BaseURL: p.BaseURL, Timeout: p.Timeout})
	case TypeAnthropic:
		return anthropic.New(anthropic.Config{BaseURL: p.BaseURL, Timeout: p.Timeout})
	case TypeGoogle:
		return google.New(google.Config{BaseURL: p.BaseURL, Timeout: p.Timeout})
	}
	return nil, fmt.Errorf("provider %q: unknown type %q", p.ID, p.Type)
}

// Register creates a client for every catalog entry and adds it to reg
// under the entry's ID.
func (c *Catalog) Register(reg *provider.Registry) error {
	var errs []error
	for _, p := range c.Providers() {
		client, err := NewClient(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := reg.Register(p.ID, client); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
