package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/storage"
	"github.com/rhuss/chorus/pkg/transport"
	"github.com/rhuss/chorus/pkg/workspace"
)

// Engine runs rounds on a workspace. It implements transport.RoundCreator.
type Engine struct {
	ws    *workspace.Workspace
	store transport.RoundStore
}

// Ensure Engine implements transport.RoundCreator at compile time.
var _ transport.RoundCreator = (*Engine)(nil)

// New creates an Engine. The workspace must not be nil. The store can be
// nil, in which case only running rounds can be looked up.
func New(ws *workspace.Workspace, store transport.RoundStore) (*Engine, error) {
	if ws == nil {
		return nil, fmt.Errorf("engine: workspace must not be nil")
	}
	return &Engine{ws: ws, store: store}, nil
}

// Workspace returns the workspace the engine submits to.
func (e *Engine) Workspace() *workspace.Workspace {
	return e.ws
}

// CreateRound submits req.Query over the workspace's targets and blocks
// until the round ends or ctx is done. Streaming submissions receive every
// round event; others receive the final record. When ctx is done first the
// round is cancelled.
func (e *Engine) CreateRound(ctx context.Context, req *api.CreateRoundRequest, w transport.RoundWriter) error {
	if apiErr := api.ValidateQuery(req.Query); apiErr != nil {
		return apiErr
	}
	if req.Stream {
		return e.streamRound(ctx, req.Query, w)
	}

	r, err := e.ws.Submit(ctx, req.Query, nil)
	if err != nil {
		return err
	}
	select {
	case <-r.Done():
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
	rec := r.Record()
	return w.WriteRound(ctx, &rec)
}

// streamRound relays round events to w. A failed write cancels the round.
func (e *Engine) streamRound(ctx context.Context, query string, w transport.RoundWriter) error {
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := newEventSink(ctx, w, cancel)
	r, err := e.ws.Submit(roundCtx, query, sink)
	if err != nil {
		return err
	}

	select {
	case <-r.Done():
	case <-roundCtx.Done():
		r.Cancel()
	}

	// A callback still in progress after Cancel holds the sink lock until
	// its write returns; anything it emits after the terminal event below
	// is dropped by the sink.
	if err := sink.err(); err != nil {
		return err
	}
	if !sink.ended() {
		rec := r.Record()
		rec.Status = api.RoundStatusCancelled
		sink.emit(api.RoundEvent{Type: api.EventRoundCancelled, Round: &rec})
	}
	return sink.err()
}

// GetRound returns a running round's current state, or the archived
// record of a finished one.
func (e *Engine) GetRound(ctx context.Context, id string) (*api.RoundRecord, error) {
	if !api.ValidateRoundID(id) {
		return nil, api.NewInvalidRequestError("id", fmt.Sprintf("invalid round ID %q", id))
	}
	if r, ok := e.ws.Round(id); ok {
		rec := r.Record()
		return &rec, nil
	}
	if e.store == nil {
		return nil, api.NewNotFoundError(fmt.Sprintf("round %q not found", id))
	}
	rec, err := e.store.GetRound(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, api.NewNotFoundError(fmt.Sprintf("round %q not found", id))
	}
	return rec, err
}

// ListRounds returns a page of archived rounds.
func (e *Engine) ListRounds(ctx context.Context, opts transport.ListOptions) (*transport.RoundList, error) {
	if e.store == nil {
		return &transport.RoundList{Object: "list", Data: []*api.RoundRecord{}}, nil
	}
	return e.store.ListRounds(ctx, opts)
}

// DeleteRound cancels a running round, or removes a finished one from the
// archive.
func (e *Engine) DeleteRound(ctx context.Context, id string) error {
	if !api.ValidateRoundID(id) {
		return api.NewInvalidRequestError("id", fmt.Sprintf("invalid round ID %q", id))
	}
	if e.ws.Cancel(id) {
		return nil
	}
	if e.store == nil {
		return api.NewNotFoundError(fmt.Sprintf("round %q not found", id))
	}
	err := e.store.DeleteRound(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return api.NewNotFoundError(fmt.Sprintf("round %q not found", id))
	}
	return err
}

// HealthCheck reports whether the round archive is usable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	return e.store.HealthCheck(ctx)
}
