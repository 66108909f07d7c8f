package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/credential"
	"github.com/rhuss/chorus/pkg/debug"
	"github.com/rhuss/chorus/pkg/observability"
	"github.com/rhuss/chorus/pkg/provider"
)

// Archive receives the record of every finished round.
type Archive interface {
	SaveRound(ctx context.Context, record *api.RoundRecord) error
}

// Config holds dispatcher settings.
type Config struct {
	// SystemPrompt is prepended to every primary branch request.
	// Defaults to DefaultSystemPrompt.
	SystemPrompt string

	// SynthesisPrompt is the system instruction of the synthesis branch.
	// Defaults to DefaultSynthesisPrompt.
	SynthesisPrompt string

	// Transcripts holds the per-target transcripts. A fresh set is
	// created when nil.
	Transcripts *Transcripts

	// Archive stores finished round records. Optional.
	Archive Archive
}

// Dispatcher runs dispatch rounds. It is safe for concurrent use; rounds
// are independent of each other.
type Dispatcher struct {
	relay relay
	cfg   Config
	wg    sync.WaitGroup
}

// New creates a Dispatcher. registry resolves provider IDs to clients and
// creds supplies the per-provider secret for every branch.
func New(registry *provider.Registry, creds credential.Store, cfg Config) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("dispatch: provider registry must not be nil")
	}
	if creds == nil {
		return nil, errors.New("dispatch: credential store must not be nil")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.SynthesisPrompt == "" {
		cfg.SynthesisPrompt = DefaultSynthesisPrompt
	}
	if cfg.Transcripts == nil {
		cfg.Transcripts = NewTranscripts()
	}
	return &Dispatcher{
		relay: relay{registry: registry, creds: creds},
		cfg:   cfg,
	}, nil
}

// Transcripts returns the transcript set the dispatcher writes to.
func (d *Dispatcher) Transcripts() *Transcripts {
	return d.cfg.Transcripts
}

// Submit starts a round for query over targets and returns without waiting
// for any branch.
//
// Every active non-aggregator target gets the user message and a fresh
// empty placeholder appended to its transcript before Submit returns; its
// relay then runs against the transcript as it was at that point. The
// active aggregator, if any, is not dispatched until the primary branches
// have joined. Cancelling ctx cancels the round.
func (d *Dispatcher) Submit(ctx context.Context, query string, targets []api.Target, sink Sink) (*Round, error) {
	if apiErr := api.ValidateQuery(query); apiErr != nil {
		return nil, apiErr
	}
	if apiErr := api.ValidateTargets(targets); apiErr != nil {
		return nil, apiErr
	}

	participants, aggregator := api.Partition(targets)

	roundCtx, cancel := context.WithCancel(ctx)
	roundCtx, span := observability.Tracer().Start(roundCtx, "dispatch.round")

	r := &Round{
		ID:           api.NewRoundID(),
		Query:        query,
		participants: participants,
		placeholders: make([]string, len(participants)),
		aggregator:   aggregator,
		collector:    newCollector(len(participants)),
		gate:         newGate(sink),
		cancel:       cancel,
		done:         make(chan struct{}),
		createdAt:    time.Now(),
	}
	if aggregator != nil {
		r.synthesisPlaceholder = api.NewMessageID()
	}
	span.SetAttributes(
		attribute.String("chorus.round", r.ID),
		attribute.Int("chorus.participants", len(participants)),
		attribute.Bool("chorus.synthesis", aggregator != nil),
	)

	// Prepare every branch before any of them runs.
	branches := make([]branch, len(participants))
	for i, t := range participants {
		tr := d.cfg.Transcripts.For(t.ID)
		tr.Append(api.Message{ID: api.NewMessageID(), Role: api.RoleUser, Content: query})
		snapshot := tr.Snapshot()

		placeholderID := api.NewMessageID()
		tr.Append(api.Message{ID: placeholderID, Role: api.RoleAssistant})
		r.placeholders[i] = placeholderID

		branches[i] = branch{
			target:        t,
			placeholderID: placeholderID,
			transcript:    tr,
			messages:      snapshot,
			systemPrompt:  d.cfg.SystemPrompt,
		}
	}

	// Parent cancellation silences the round just like Cancel does.
	stop := context.AfterFunc(roundCtx, r.gate.close)

	r.gate.roundStarted(r)
	observability.RoundsInFlight.Inc()

	for i, b := range branches {
		r.collector.start(i, func() api.BranchOutcome {
			return d.relay.run(roundCtx, b, r.gate)
		})
	}
	r.collector.seal()

	slog.Info("round submitted",
		"round", r.ID,
		"participants", len(participants),
		"synthesis", aggregator != nil,
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer stop()
		d.finish(roundCtx, span, r)
	}()

	return r, nil
}

// finish waits for the join, runs synthesis when an aggregator is active
// and settles the round.
func (d *Dispatcher) finish(ctx context.Context, span trace.Span, r *Round) {
	defer span.End()
	defer observability.RoundsInFlight.Dec()

	outcomes := r.collector.Join()
	debug.Log("dispatch", "round joined", "round", r.ID, "outcomes", len(outcomes))
	r.gate.joined(outcomes)

	if r.aggregator != nil && ctx.Err() == nil {
		synthesis := d.synthesize(ctx, r, outcomes)
		r.mu.Lock()
		r.synthesis = &synthesis
		r.mu.Unlock()
	}

	status := api.RoundStatusCompleted
	if ctx.Err() != nil {
		status = api.RoundStatusCancelled
	}

	r.mu.Lock()
	r.status = status
	r.completedAt = time.Now()
	r.mu.Unlock()

	record := r.Record()
	observability.RoundsTotal.WithLabelValues(string(status)).Inc()
	span.SetAttributes(attribute.String("chorus.round_status", string(status)))

	slog.Info("round finished",
		"round", r.ID,
		"status", status,
		"succeeded", countSucceeded(outcomes),
		"failed", len(outcomes)-countSucceeded(outcomes),
		"duration", record.CompletedAt.Sub(record.CreatedAt).String(),
	)

	if d.cfg.Archive != nil {
		// The archive write outlives a cancelled round.
		if err := d.cfg.Archive.SaveRound(context.WithoutCancel(ctx), &record); err != nil {
			slog.Warn("failed to archive round", "round", r.ID, "error", err.Error())
		}
	}

	r.gate.roundFinished(record)
	r.cancel()
	close(r.done)
}

// synthesize replaces the aggregator transcript with the composite prompt
// and a fresh placeholder, then runs one relay against it. It runs even if
// every primary branch failed or there were none.
func (d *Dispatcher) synthesize(ctx context.Context, r *Round, outcomes []api.BranchOutcome) api.BranchOutcome {
	ctx, span := observability.Tracer().Start(ctx, "dispatch.synthesis")
	defer span.End()

	agg := *r.aggregator
	composite := BuildSynthesisPrompt(r.Query, r.participants, outcomes)

	tr := d.cfg.Transcripts.For(agg.ID)
	userMsg := api.Message{ID: api.NewMessageID(), Role: api.RoleUser, Content: composite}
	tr.Reset(userMsg, api.Message{ID: r.synthesisPlaceholder, Role: api.RoleAssistant})

	r.gate.synthesisStarted(r.synthesisPlaceholder, agg)
	debug.Log("dispatch", "synthesis started",
		"round", r.ID, "aggregator", agg.ID, "blocks", len(outcomes), "prompt_chars", len(composite))

	outcome := d.relay.run(ctx, branch{
		target:        agg,
		placeholderID: r.synthesisPlaceholder,
		transcript:    tr,
		messages:      []api.Message{userMsg},
		systemPrompt:  d.cfg.SynthesisPrompt,
	}, r.gate)

	observability.SynthesisTotal.WithLabelValues(string(outcome.Status)).Inc()
	return outcome
}

// Wait blocks until every submitted round has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func countSucceeded(outcomes []api.BranchOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}
