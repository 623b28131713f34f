// Package commands implements the axiomd CLI using cobra/viper: one
// file per subcommand, a package-level default config that flags and
// viper both bind into.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/axiom-network/axiom/internal/config"
)

// cliConfig is the package-level default Config every subcommand's
// flags are bound against.
var cliConfig = config.NewDefaultConfig()

// RootCmd is the root command for axiomd.
var RootCmd = &cobra.Command{
	Use:              "axiomd",
	Short:            "axiomd runs a node in the Axiom fact ledger network",
	TraverseChildren: true,
}

func init() {
	RootCmd.AddCommand(NewRunCmd())
	RootCmd.AddCommand(NewKeygenCmd())
	RootCmd.AddCommand(NewInitCmd())
	RootCmd.AddCommand(NewVersionCmd())
	RootCmd.AddCommand(NewImportValidatorsCmd())
}
