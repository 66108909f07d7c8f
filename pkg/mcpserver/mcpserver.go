// Package mcpserver exposes chorus rounds as Model Context Protocol tools.
//
// The server offers two tools: ask_all, which runs one round over the
// workspace's active targets and returns every answer plus the synthesis,
// and list_targets, which describes the targets a round would use.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/debug"
	"github.com/rhuss/chorus/pkg/transport"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// TargetLister returns the workspace's current targets.
type TargetLister interface {
	Targets() []api.Target
}

// AskAllInput is the argument of the ask_all tool.
type AskAllInput struct {
	Query string `json:"query" jsonschema:"the question sent to every active target"`
}

// Answer is one target's contribution to a round.
type Answer struct {
	Target string `json:"target"`
	Model  string `json:"model"`
	Status string `json:"status"`
	Text   string `json:"text"`
}

// AskAllOutput is the structured result of the ask_all tool.
type AskAllOutput struct {
	Round     string   `json:"round"`
	Status    string   `json:"status"`
	Answers   []Answer `json:"answers"`
	Synthesis string   `json:"synthesis,omitempty"`
}

// ListTargetsOutput is the structured result of the list_targets tool.
type ListTargetsOutput struct {
	Targets []TargetInfo `json:"targets"`
}

// TargetInfo describes one target.
type TargetInfo struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Status     string `json:"status"`
	Aggregator bool   `json:"aggregator"`
}

// Server wraps an MCP server bound to a round creator.
type Server struct {
	rounds  transport.RoundCreator
	targets TargetLister
	mcp     *mcp.Server
}

// New creates the MCP server. targets may be nil, in which case
// list_targets is not offered.
func New(rounds transport.RoundCreator, targets TargetLister) (*Server, error) {
	if rounds == nil {
		return nil, errors.New("mcpserver: round creator is required")
	}

	s := &Server{
		rounds:  rounds,
		targets: targets,
		mcp: mcp.NewServer(
			&mcp.Implementation{Name: "chorus", Version: Version},
			nil,
		),
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "ask_all",
		Description: "Send a question to every active model target at once and return " +
			"each answer together with the aggregator's synthesis.",
	}, s.askAll)

	if targets != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "list_targets",
			Description: "List the model targets a question would be sent to.",
		}, s.listTargets)
	}

	return s, nil
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Handler serves the tools over the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

func (s *Server) askAll(ctx context.Context, _ *mcp.CallToolRequest, in AskAllInput) (*mcp.CallToolResult, AskAllOutput, error) {
	debug.Log("transport", "mcp ask_all", "query", debug.Truncate(in.Query, 80))

	w := &recordWriter{}
	err := s.rounds.CreateRound(ctx, &api.CreateRoundRequest{Query: in.Query}, w)
	if err != nil {
		return errorResult(err), AskAllOutput{Answers: []Answer{}}, nil
	}
	if w.record == nil {
		return errorResult(errors.New("round finished without a record")), AskAllOutput{Answers: []Answer{}}, nil
	}

	out := outputFromRecord(w.record)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: renderRound(w.record)}},
	}, out, nil
}

func (s *Server) listTargets(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ListTargetsOutput, error) {
	var out ListTargetsOutput
	var b strings.Builder
	for _, t := range s.targets.Targets() {
		out.Targets = append(out.Targets, TargetInfo{
			ID:         t.ID,
			Provider:   t.ProviderID,
			Model:      t.ModelID,
			Status:     string(t.Status),
			Aggregator: t.IsAggregator,
		})
		fmt.Fprintf(&b, "%s\t%s/%s\t%s", t.ID, t.ProviderID, t.ModelID, t.Status)
		if t.IsAggregator {
			b.WriteString("\taggregator")
		}
		b.WriteString("\n")
	}
	if out.Targets == nil {
		out.Targets = []TargetInfo{}
		b.WriteString("no targets configured\n")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
	}, out, nil
}

func outputFromRecord(rec *api.RoundRecord) AskAllOutput {
	out := AskAllOutput{
		Round:   rec.ID,
		Status:  string(rec.Status),
		Answers: make([]Answer, 0, len(rec.Outcomes)),
	}
	byID := make(map[string]api.Target, len(rec.Participants))
	for _, t := range rec.Participants {
		byID[t.ID] = t
	}
	for _, o := range rec.Outcomes {
		t := byID[o.TargetID]
		out.Answers = append(out.Answers, Answer{
			Target: labelOf(t, o.TargetID),
			Model:  t.ModelID,
			Status: string(o.Status),
			Text:   o.DisplayText(),
		})
	}
	if rec.Synthesis != nil {
		out.Synthesis = rec.Synthesis.DisplayText()
	}
	return out
}

// renderRound formats a round record as plain text for clients that only
// read the content blocks.
func renderRound(rec *api.RoundRecord) string {
	out := outputFromRecord(rec)
	var b strings.Builder
	for _, a := range out.Answers {
		fmt.Fprintf(&b, "## %s (%s)\n\n%s\n\n", a.Target, a.Status, a.Text)
	}
	if rec.Synthesis != nil {
		label := "synthesis"
		if rec.Aggregator != nil {
			label = "synthesis by " + rec.Aggregator.Label()
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n", label, out.Synthesis)
	}
	if b.Len() == 0 {
		return "no active targets answered"
	}
	return strings.TrimRight(b.String(), "\n")
}

func labelOf(t api.Target, fallback string) string {
	if t.ID == "" {
		return fallback
	}
	return t.Label()
}

func errorResult(err error) *mcp.CallToolResult {
	msg := err.Error()
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		msg = fmt.Sprintf("%s: %s", apiErr.Type, apiErr.Message)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

// recordWriter keeps the record of a non-streaming round.
type recordWriter struct {
	record *api.RoundRecord
}

func (w *recordWriter) WriteEvent(context.Context, api.RoundEvent) error { return nil }

func (w *recordWriter) WriteRound(_ context.Context, record *api.RoundRecord) error {
	w.record = record
	return nil
}

func (w *recordWriter) Flush() error { return nil }
