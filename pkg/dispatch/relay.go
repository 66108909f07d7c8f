package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/credential"
	"github.com/rhuss/chorus/pkg/debug"
	"github.com/rhuss/chorus/pkg/observability"
	"github.com/rhuss/chorus/pkg/provider"
)

// branch is one relay invocation: a target, the messages to send and the
// placeholder that receives the answer.
type branch struct {
	target        api.Target
	placeholderID string
	transcript    *Transcript
	messages      []api.Message
	systemPrompt  string
}

// relay drives one provider call for one placeholder.
type relay struct {
	registry *provider.Registry
	creds    credential.Store
}

// run executes b and always returns its outcome. The sink sees every
// fragment as the full accumulated text, followed by exactly one terminal
// notification. Nothing is retried.
func (r *relay) run(ctx context.Context, b branch, sink Sink) (outcome api.BranchOutcome) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "dispatch.branch")
	span.SetAttributes(
		attribute.String("chorus.target", b.target.ID),
		attribute.String("chorus.provider", b.target.ProviderID),
		attribute.String("chorus.model", b.target.ModelID),
	)

	outcome = api.BranchOutcome{
		TargetID:      b.target.ID,
		PlaceholderID: b.placeholderID,
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("branch panicked", "target", b.target.ID, "panic", rec)
			if outcome.Status == "" {
				outcome = r.settle(ctx, b, sink, outcome, api.NewTransportError(fmt.Sprintf("internal error: %v", rec)))
			}
		}
		if outcome.Succeeded() {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, outcome.Reason)
			span.SetAttributes(attribute.String("chorus.error_type", string(outcome.ErrorType)))
		}
		span.End()

		var in, out int
		if outcome.Usage != nil {
			in, out = outcome.Usage.InputTokens, outcome.Usage.OutputTokens
		}
		observability.RecordBranch(b.target.ProviderID, b.target.ModelID, string(outcome.Status), time.Since(start), in, out)
	}()

	secret, err := r.creds.Lookup(ctx, b.target.ProviderID)
	if err != nil || secret == "" {
		credErr := api.NewMissingCredentialError()
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			credErr.Message = "credential lookup failed: " + err.Error()
		}
		return r.settle(ctx, b, sink, outcome, credErr)
	}

	p, ok := r.registry.Lookup(b.target.ProviderID)
	if !ok {
		return r.settle(ctx, b, sink, outcome,
			api.NewTransportError(fmt.Sprintf("no client registered for provider %q", b.target.ProviderID)))
	}

	caps := p.Capabilities()
	req := &provider.ProviderRequest{
		Model:    b.target.ModelID,
		Messages: providerMessages(b.systemPrompt, b.messages),
		Stream:   caps.Streaming,
		APIKey:   secret,
	}
	if apiErr := provider.ValidateRequest(caps, req); apiErr != nil {
		return r.settle(ctx, b, sink, outcome, api.NewBackendRejectedError(0, apiErr.Message))
	}

	debug.Log("dispatch", "branch started",
		"target", b.target.ID, "provider", b.target.ProviderID, "model", b.target.ModelID,
		"messages", len(req.Messages), "stream", req.Stream)

	if !caps.Streaming {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return r.settle(ctx, b, sink, outcome, err)
		}
		outcome.Text = resp.Text
		usage := resp.Usage
		outcome.Usage = &usage
		r.append(ctx, b, sink, resp.Text)
		return r.settle(ctx, b, sink, outcome, nil)
	}

	ch, err := p.Stream(ctx, req)
	if err != nil {
		return r.settle(ctx, b, sink, outcome, err)
	}

	var (
		text      strings.Builder
		streamErr error
	)
	// The channel is drained to the end even after an error so the
	// provider goroutine can exit.
	for ev := range ch {
		switch ev.Type {
		case provider.ProviderEventTextDelta:
			if ev.Delta == "" || streamErr != nil {
				continue
			}
			text.WriteString(ev.Delta)
			observability.BranchFragmentsTotal.WithLabelValues(b.target.ProviderID).Inc()
			r.append(ctx, b, sink, text.String())
		case provider.ProviderEventTextDone, provider.ProviderEventDone:
			if ev.Usage != nil {
				usage := *ev.Usage
				outcome.Usage = &usage
			}
		case provider.ProviderEventError:
			if streamErr == nil {
				streamErr = ev.Err
			}
		}
	}

	outcome.Text = text.String()
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}
	return r.settle(ctx, b, sink, outcome, streamErr)
}

// append publishes the accumulated text of the placeholder. Writes stop
// once the round is cancelled.
func (r *relay) append(ctx context.Context, b branch, sink Sink, text string) {
	if ctx.Err() != nil {
		return
	}
	if b.transcript != nil {
		b.transcript.SetContent(b.placeholderID, text)
	}
	if debug.TraceIsEnabled("dispatch") {
		debug.Trace("dispatch", "branch append", "placeholder", b.placeholderID, "text", text)
	}
	sink.OnAppend(b.placeholderID, text)
}

// settle finalizes outcome from err, writes the terminal text into the
// placeholder and sends the terminal notification. Partial text is kept
// on failure.
func (r *relay) settle(ctx context.Context, b branch, sink Sink, outcome api.BranchOutcome, err error) api.BranchOutcome {
	if err != nil {
		outcome.Status = api.OutcomeFailed
		outcome.ErrorType, outcome.Reason = api.Classify(err)
		slog.Warn("branch failed",
			"target", b.target.ID,
			"provider", b.target.ProviderID,
			"model", b.target.ModelID,
			"error_type", outcome.ErrorType,
			"reason", outcome.Reason,
		)
	} else {
		outcome.Status = api.OutcomeSucceeded
		debug.Log("dispatch", "branch succeeded",
			"target", b.target.ID, "chars", len(outcome.Text))
	}

	if ctx.Err() == nil && b.transcript != nil {
		b.transcript.SetContent(b.placeholderID, outcome.DisplayText())
	}
	sink.OnTerminal(b.placeholderID, outcome)
	return outcome
}

// providerMessages converts a transcript snapshot into provider messages.
// systemPrompt, when set, is sent first. Empty assistant messages are
// placeholders that never received text and are left out.
func providerMessages(systemPrompt string, messages []api.Message) []provider.ProviderMessage {
	out := make([]provider.ProviderMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, provider.ProviderMessage{Role: string(api.RoleSystem), Content: systemPrompt})
	}
	for _, m := range messages {
		if m.Role == api.RoleAssistant && m.Content == "" {
			continue
		}
		out = append(out, provider.ProviderMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
