package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a round does not exist or was evicted.
	ErrNotFound = errors.New("round not found")

	// ErrConflict is returned when a round with the given ID already exists.
	ErrConflict = errors.New("round already exists")
)
