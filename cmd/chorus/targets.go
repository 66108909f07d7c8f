package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/workspace"
)

func newTargetsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List and manage the targets of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets, err := newClient(opts.server).targets(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROVIDER\tMODEL\tSTATUS\tAGGREGATOR")
			for _, t := range targets {
				agg := ""
				if t.IsAggregator {
					agg = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.ProviderID, t.ModelID, t.Status, agg)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(newTargetsAddCmd(opts), newTargetsSetCmd(opts), newTargetsRemoveCmd(opts))
	return cmd
}

func newTargetsAddCmd(opts *options) *cobra.Command {
	var t api.Target
	var status string

	cmd := &cobra.Command{
		Use:   "add <provider>",
		Short: "Add a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t.ProviderID = args[0]
			t.Status = api.TargetStatus(status)
			added, err := newClient(opts.server).addTarget(cmd.Context(), t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s/%s)\n", added.ID, added.ProviderID, added.ModelID)
			return nil
		},
	}
	cmd.Flags().StringVar(&t.ID, "id", "", "target ID (derived from the model when empty)")
	cmd.Flags().StringVar(&t.ModelID, "model", "", "model (provider default when empty)")
	cmd.Flags().StringVar(&t.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&status, "status", "", "active, ready or inactive (default active)")
	cmd.Flags().BoolVar(&t.IsAggregator, "aggregator", false, "use this target for synthesis")
	return cmd
}

func newTargetsSetCmd(opts *options) *cobra.Command {
	var (
		status     string
		model      string
		aggregator bool
	)

	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Change a target's status, model or aggregator role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch workspace.Patch
			if cmd.Flags().Changed("status") {
				s := api.TargetStatus(status)
				patch.Status = &s
			}
			if cmd.Flags().Changed("model") {
				patch.ModelID = &model
			}
			if cmd.Flags().Changed("aggregator") {
				patch.Aggregator = &aggregator
			}
			if patch == (workspace.Patch{}) {
				return fmt.Errorf("nothing to change: use --status, --model or --aggregator")
			}
			t, err := newClient(opts.server).updateTarget(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s/%s %s\n", t.ID, t.ProviderID, t.ModelID, t.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "active, ready or inactive")
	cmd.Flags().StringVar(&model, "model", "", "model to switch to")
	cmd.Flags().BoolVar(&aggregator, "aggregator", false, "make this target the aggregator")
	return cmd
}

func newTargetsRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a target and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(opts.server).removeTarget(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}
