// Command axiomd runs a single Axiom node: the P2P gossip transport,
// the fact ledger and block consensus loop, and the HTTP read/control
// API, all as one process — every participant node runs the same
// program.
package main

import (
	"fmt"
	"os"

	"github.com/axiom-network/axiom/cmd/axiomd/commands"
)

func main() {
	// Every error that reaches here comes from flag parsing, loadConfig,
	// or the keygen/init/import-validators subcommands, and exits with
	// code 1; runNode exits directly with the matching code for
	// runtime-level failures instead of returning.
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
