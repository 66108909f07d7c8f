// Package memory provides an in-memory credential.Store. Secrets live only
// in process memory. Secrets stored with Put are forgotten after a
// configurable period without any store access; pinned secrets from the
// configuration are kept until deleted.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/chorus/pkg/credential"
	"github.com/rhuss/chorus/pkg/debug"
)

// DefaultIdleTimeout is how long secrets survive without any access.
const DefaultIdleTimeout = 8 * time.Hour

// Store is an in-memory credential store with idle expiry.
type Store struct {
	mu          sync.Mutex
	secrets     map[string]string
	pinned      map[string]string // never expire
	idleTimeout time.Duration // 0 = never expire
	lastAccess  time.Time
	now         func() time.Time
}

// Ensure Store implements credential.Store at compile time.
var _ credential.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store. If idleTimeout is 0 secrets never expire;
// otherwise every secret is dropped once idleTimeout passes without a
// Lookup, Put, Delete or Providers call.
func New(idleTimeout time.Duration, opts ...Option) *Store {
	s := &Store{
		secrets:     make(map[string]string),
		pinned:      make(map[string]string),
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastAccess = s.now()
	return s
}

// Pin stores a secret that idle expiry never drops. A secret stored with
// Put for the same provider takes precedence while it lives.
func (s *Store) Pin(providerID, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[providerID] = secret
}

// Lookup returns the secret for providerID.
func (s *Store) Lookup(_ context.Context, providerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	secret := s.secrets[providerID]
	if secret == "" {
		secret = s.pinned[providerID]
	}
	if secret == "" {
		return "", credential.ErrNotFound
	}
	return secret, nil
}

// Put stores the secret for providerID.
func (s *Store) Put(_ context.Context, providerID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	s.secrets[providerID] = secret
	return nil
}

// Delete removes the secret for providerID, pinned or not.
func (s *Store) Delete(_ context.Context, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	_, stored := s.secrets[providerID]
	_, pinned := s.pinned[providerID]
	if !stored && !pinned {
		return credential.ErrNotFound
	}
	delete(s.secrets, providerID)
	delete(s.pinned, providerID)
	return nil
}

// Providers lists provider IDs with a stored secret.
func (s *Store) Providers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	ids := make([]string, 0, len(s.secrets)+len(s.pinned))
	for id := range s.secrets {
		ids = append(ids, id)
	}
	for id := range s.pinned {
		if _, ok := s.secrets[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close drops all secrets.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.secrets)
	clear(s.pinned)
	return nil
}

// touch expires all unpinned secrets if the store sat idle too long, then records
// the current access. Must be called with s.mu held.
func (s *Store) touch() {
	now := s.now()
	if s.idleTimeout > 0 && len(s.secrets) > 0 && now.Sub(s.lastAccess) > s.idleTimeout {
		debug.Log("credentials", "idle timeout reached, clearing secrets",
			"count", len(s.secrets), "idle", now.Sub(s.lastAccess).String())
		clear(s.secrets)
	}
	s.lastAccess = now
}
