package commands

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/spf13/cobra"

	"github.com/axiom-network/axiom/internal/axerr"
	"github.com/axiom-network/axiom/internal/model"
	"github.com/axiom-network/axiom/internal/storage"
)

// NewImportValidatorsCmd returns the command that seeds a node's local
// validator registry from a shared JSON file, the out-of-band
// distribution pattern prepopulate_validators.py uses against a
// validators.json every node in a network is handed before startup:
// gossip alone (VALIDATOR_ANNOUNCE) can only spread a validator's stake
// once two nodes have connected, so a freshly initialized network still
// needs one shared file to agree on who is staked before the first
// slot ticks.
func NewImportValidatorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-validators <file>",
		Short: "Seed the local validator registry from a shared JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  importValidators,
	}
	cmd.Flags().StringVar(&cliConfig.DataDir, "data-dir", cliConfig.DataDir, "Top-level directory for node state")
	return cmd
}

func importValidators(cmd *cobra.Command, args []string) error {
	raw, err := ioutil.ReadFile(args[0])
	if err != nil {
		return axerr.New(axerr.Configuration, err)
	}

	var validators []*model.ValidatorRecord
	if err := json.Unmarshal(raw, &validators); err != nil {
		return axerr.New(axerr.Configuration, err)
	}

	store, err := storage.NewBadgerStore(cliConfig.LedgerPath())
	if err != nil {
		return axerr.New(axerr.Storage, err)
	}
	defer store.Close()

	for _, v := range validators {
		if v.Fingerprint == "" {
			return axerr.Newf(axerr.Configuration, "validator entry missing public_key_fingerprint")
		}
		if err := store.UpsertValidator(v); err != nil {
			return axerr.New(axerr.Storage, err)
		}
		fmt.Printf("imported validator %s stake=%d\n", v.Fingerprint, v.Stake)
	}
	return nil
}
