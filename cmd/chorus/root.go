package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

// options are the persistent flags shared by every command.
type options struct {
	server     string
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "chorus",
		Short: "Ask several language models at once and synthesize their answers",
		Long: `Chorus sends one question to every active target, streams the answers
side by side and lets an aggregator model combine them into a single reply.

Commands that talk to a running server use --server (or CHORUS_SERVER).`,
		SilenceUsage: true,
	}

	server := os.Getenv("CHORUS_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "chorus server URL")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file for serve (default: CHORUS_CONFIG, ./config.yaml, /etc/chorus/config.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newTargetsCmd(opts),
		newKeyCmd(opts),
		newSealCmd(),
	)
	return root
}
