package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/axerr"
)

var keygenIdentityPath string

// NewKeygenCmd returns the command that creates a node's RSA-2048
// identity, the keypair axcrypto.Identity wraps.
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new node identity",
		RunE:  keygen,
	}
	cmd.Flags().StringVar(&keygenIdentityPath, "identity", "", "File where the private key will be written (default <data-dir>/identity.pem)")
	cmd.Flags().StringVar(&cliConfig.DataDir, "data-dir", cliConfig.DataDir, "Top-level directory for node state")
	return cmd
}

func keygen(cmd *cobra.Command, args []string) error {
	path := keygenIdentityPath
	if path == "" {
		path = cliConfig.IdentityFilePath()
	}

	f := axcrypto.NewIdentityFile(path)
	existing, err := f.Load()
	if err != nil {
		return axerr.New(axerr.Configuration, err)
	}
	if existing != nil {
		return axerr.Newf(axerr.Configuration, "an identity already exists at %s", path)
	}

	id, err := axcrypto.GenerateIdentity()
	if err != nil {
		return axerr.New(axerr.Crypto, err)
	}
	if err := f.Save(id); err != nil {
		return axerr.New(axerr.Configuration, err)
	}

	fp, err := id.Fingerprint()
	if err != nil {
		return axerr.New(axerr.Crypto, err)
	}

	fmt.Println("Identity written to:", path)
	fmt.Println("Fingerprint:", fp)
	return nil
}
