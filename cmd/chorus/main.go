// Command chorus is the command-line interface of the chorus dispatch
// server. It can run the server, send a question to every target of a
// running server and stream the answers, manage targets and keys, and seal
// API keys for the postgres credential store.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
