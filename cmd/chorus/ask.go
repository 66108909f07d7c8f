package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/chorus/pkg/api"
)

func newAskCmd(opts *options) *cobra.Command {
	var (
		asJSON   bool
		noStream bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Send a question to every active target",
		Long: `Ask submits one question to a running chorus server. Each target's
answer is printed as soon as it settles, followed by the synthesis when an
aggregator is active.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			c := newClient(opts.server)
			out := cmd.OutOrStdout()

			if noStream {
				rec, err := c.createRound(cmd.Context(), query)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(out, rec)
				}
				printRecord(out, rec)
				return nil
			}

			p := &roundPrinter{out: out, json: asJSON}
			if err := c.streamRound(cmd.Context(), query, p.handle); err != nil {
				return err
			}
			if !p.done {
				return errors.New("stream ended before the round finished")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the final round record as JSON")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole round instead of streaming")
	return cmd
}

// roundPrinter renders round events as they arrive.
type roundPrinter struct {
	out        io.Writer
	json       bool
	labels     map[string]string
	aggregator string
	done       bool
}

func (p *roundPrinter) handle(ev api.RoundEvent) error {
	switch ev.Type {
	case api.EventRoundCreated:
		p.labels = make(map[string]string)
		if ev.Round != nil {
			for _, t := range ev.Round.Participants {
				p.labels[t.ID] = t.Label()
			}
			if agg := ev.Round.Aggregator; agg != nil {
				p.aggregator = agg.ID
				p.labels[agg.ID] = agg.Label()
			}
		}
	case api.EventBranchTerminal:
		if ev.Outcome == nil || p.json {
			return nil
		}
		label := p.labels[ev.TargetID]
		if label == "" {
			label = ev.TargetID
		}
		if ev.TargetID == p.aggregator {
			fmt.Fprintf(p.out, "=== synthesis by %s ===\n%s\n\n", label, ev.Outcome.DisplayText())
			return nil
		}
		fmt.Fprintf(p.out, "=== %s (%s) ===\n%s\n\n", label, ev.Outcome.Status, ev.Outcome.DisplayText())
	case api.EventRoundCompleted:
		p.done = true
		if p.json && ev.Round != nil {
			return printJSON(p.out, ev.Round)
		}
	case api.EventRoundCancelled:
		p.done = true
		return errors.New("round was cancelled")
	case api.EventRoundError:
		p.done = true
		if ev.Error != nil {
			return ev.Error
		}
		return errors.New("round failed")
	}
	return nil
}

func printRecord(w io.Writer, rec *api.RoundRecord) {
	labels := make(map[string]string, len(rec.Participants))
	for _, t := range rec.Participants {
		labels[t.ID] = t.Label()
	}
	for _, o := range rec.Outcomes {
		fmt.Fprintf(w, "=== %s (%s) ===\n%s\n\n", labels[o.TargetID], o.Status, o.DisplayText())
	}
	if rec.Synthesis != nil && rec.Aggregator != nil {
		fmt.Fprintf(w, "=== synthesis by %s ===\n%s\n\n", rec.Aggregator.Label(), rec.Synthesis.DisplayText())
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
