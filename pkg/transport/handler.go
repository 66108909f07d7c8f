package transport

import (
	"context"

	"github.com/rhuss/chorus/pkg/api"
)

// RoundCreator runs a dispatch round for a submission. The implementation
// writes round events, or a single round record for non-streaming
// submissions, to the RoundWriter and returns once the round has ended.
type RoundCreator interface {
	CreateRound(ctx context.Context, req *api.CreateRoundRequest, w RoundWriter) error
}

// RoundCreatorFunc is an adapter that allows using an ordinary function
// as a RoundCreator.
type RoundCreatorFunc func(ctx context.Context, req *api.CreateRoundRequest, w RoundWriter) error

// CreateRound calls f(ctx, req, w).
func (f RoundCreatorFunc) CreateRound(ctx context.Context, req *api.CreateRoundRequest, w RoundWriter) error {
	return f(ctx, req, w)
}

// ListOptions controls pagination and ordering for round listings.
type ListOptions struct {
	After  string // Cursor: return rounds after this ID.
	Before string // Cursor: return rounds before this ID.
	Limit  int    // Maximum number of rounds to return (default 20, max 100).
	Order  string // Sort order: "asc" or "desc" (default "desc").
}

// RoundList holds a paginated list of round records.
type RoundList struct {
	Object  string             `json:"object"`
	Data    []*api.RoundRecord `json:"data"`
	HasMore bool               `json:"has_more"`
	FirstID string             `json:"first_id"`
	LastID  string             `json:"last_id"`
}

// RoundStore keeps the records of finished rounds.
type RoundStore interface {
	// SaveRound stores a finished round. Saving an ID twice fails with
	// storage.ErrConflict.
	SaveRound(ctx context.Context, record *api.RoundRecord) error

	// GetRound returns a stored round or storage.ErrNotFound.
	GetRound(ctx context.Context, id string) (*api.RoundRecord, error)

	// DeleteRound removes a stored round.
	DeleteRound(ctx context.Context, id string) error

	// ListRounds returns a page of stored rounds, newest first by default.
	ListRounds(ctx context.Context, opts ListOptions) (*RoundList, error)

	// HealthCheck verifies the store is usable.
	HealthCheck(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// RoundWriter abstracts streaming and non-streaming output for a round.
//
// WriteEvent and WriteRound are mutually exclusive on a single writer.
// WriteEvent after a terminal event (round.completed, round.cancelled or
// error) returns an error. Writers are safe for concurrent use.
type RoundWriter interface {
	// WriteEvent sends one round event.
	WriteEvent(ctx context.Context, event api.RoundEvent) error

	// WriteRound sends the final round record of a non-streaming
	// submission.
	WriteRound(ctx context.Context, record *api.RoundRecord) error

	// Flush pushes buffered data to the client.
	Flush() error
}
