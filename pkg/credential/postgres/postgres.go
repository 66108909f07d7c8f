// Package postgres provides a PostgreSQL credential.Store. Secrets are
// sealed into v1 envelopes before they are written, so the database never
// holds a plaintext key.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/chorus/pkg/credential"
	"github.com/rhuss/chorus/pkg/debug"
)

// Store is a PostgreSQL-backed credential store.
type Store struct {
	pool   *pgxpool.Pool
	sealer *credential.Sealer
}

// Ensure Store implements credential.Store at compile time.
var _ credential.Store = (*Store)(nil)

// New creates a new PostgreSQL store. sealer seals secrets on Put and opens
// them on Lookup. If MigrateOnStart is true, schema migrations are applied.
func New(ctx context.Context, cfg Config, sealer *credential.Sealer) (*Store, error) {
	if sealer == nil {
		return nil, errors.New("postgres credential store requires a sealer")
	}
	poolCfg, err := cfg.poolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, sealer: sealer}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Lookup returns the opened secret for providerID.
func (s *Store) Lookup(ctx context.Context, providerID string) (string, error) {
	var envelope string
	err := s.pool.QueryRow(ctx,
		"SELECT envelope FROM credentials WHERE provider_id = $1",
		providerID,
	).Scan(&envelope)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", credential.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying credential: %w", err)
	}

	secret, err := s.sealer.Open(envelope)
	if err != nil {
		return "", fmt.Errorf("opening credential for %s: %w", providerID, err)
	}
	if secret == "" {
		return "", credential.ErrNotFound
	}
	return secret, nil
}

// Put seals and upserts the secret for providerID.
func (s *Store) Put(ctx context.Context, providerID, secret string) error {
	envelope, err := s.sealer.Seal(secret)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO credentials (provider_id, envelope, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (provider_id) DO UPDATE
		SET envelope = EXCLUDED.envelope, updated_at = EXCLUDED.updated_at
	`, providerID, envelope)
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	debug.Log("credentials", "credential stored", "provider", providerID)
	return nil
}

// Delete removes the secret for providerID.
func (s *Store) Delete(ctx context.Context, providerID string) error {
	result, err := s.pool.Exec(ctx, "DELETE FROM credentials WHERE provider_id = $1", providerID)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	if result.RowsAffected() == 0 {
		return credential.ErrNotFound
	}
	return nil
}

// Providers lists provider IDs with a stored secret.
func (s *Store) Providers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT provider_id FROM credentials ORDER BY provider_id")
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning credentials: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
