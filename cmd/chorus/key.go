package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newKeyCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Store or forget provider API keys on a running server",
	}

	set := &cobra.Command{
		Use:   "set <provider> [api-key]",
		Short: "Store the API key of a provider (read from stdin when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 2 {
				key = args[1]
			} else {
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				key = line
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("api key must not be empty")
			}
			if err := newClient(opts.server).putKey(cmd.Context(), args[0], key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored key for %s\n", args[0])
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <provider>",
		Short: "Forget the API key of a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(opts.server).deleteKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted key for %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}
