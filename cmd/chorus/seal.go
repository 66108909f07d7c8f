package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/chorus/pkg/credential"
)

func newSealCmd() *cobra.Command {
	var passphrase string

	cmd := &cobra.Command{
		Use:   "seal [api-key]",
		Short: "Seal an API key into a v1 envelope",
		Long: `Seal encrypts an API key with the sealing passphrase of the postgres
credential store. The key is read from the argument, or from stdin when no
argument is given. The passphrase comes from --passphrase or CHORUS_SEALING_KEY.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				passphrase = os.Getenv("CHORUS_SEALING_KEY")
			}
			sealer, err := credential.NewSealer(passphrase)
			if err != nil {
				return err
			}

			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading key from stdin: %w", err)
				}
				secret = line
			}
			secret = strings.TrimSpace(secret)
			if secret == "" {
				return errors.New("api key must not be empty")
			}

			envelope, err := sealer.Seal(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), envelope)
			return nil
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "sealing passphrase")
	return cmd
}
