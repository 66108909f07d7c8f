// Package credential defines the per-provider secret store consulted before
// every branch invocation, and the versioned envelope used to keep secrets
// sealed at rest.
//
// Store implementations (memory, postgres) are keyed by provider ID. A
// missing secret is reported as ErrNotFound, which the dispatch core turns
// into a failed branch without calling the backend.
package credential

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no secret is stored for a provider.
var ErrNotFound = errors.New("credential not found")

// Store holds one secret per provider.
//
// Implementations must be safe for concurrent use: every branch of a round
// looks up its credential from its own goroutine.
type Store interface {
	// Lookup returns the secret for providerID, or ErrNotFound.
	Lookup(ctx context.Context, providerID string) (string, error)

	// Put stores or replaces the secret for providerID.
	Put(ctx context.Context, providerID, secret string) error

	// Delete removes the secret for providerID. Deleting an absent secret
	// returns ErrNotFound.
	Delete(ctx context.Context, providerID string) error

	// Providers lists provider IDs that currently have a secret, sorted.
	Providers(ctx context.Context) ([]string, error)

	// Close releases store resources.
	Close() error
}
