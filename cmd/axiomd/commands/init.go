package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/axiom-network/axiom/internal/axerr"
)

// tomlConfig mirrors the subset of config.Config an operator would
// reasonably want to check into <data-dir>/axiom.toml rather than pass
// as flags every run. Field tags match config.Config's mapstructure
// keys exactly so viper's TOML loader in loadConfig unmarshals it
// straight into the same struct.
type tomlConfig struct {
	P2PPort        int      `toml:"p2p-port"`
	APIPort        int      `toml:"api-port"`
	Host           string   `toml:"host"`
	BootstrapPeers []string `toml:"bootstrap-peer"`
	DataDir        string   `toml:"data-dir"`
	LogLevel       string   `toml:"log-level"`
	Debug          bool     `toml:"debug"`
}

var initForce bool

// NewInitCmd returns the command that writes a default axiom.toml into
// a data directory for operators to hand-edit afterward.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default axiom.toml config file",
		RunE:  runInit,
	}
	cmd.Flags().StringVar(&cliConfig.DataDir, "data-dir", cliConfig.DataDir, "Top-level directory for node state")
	cmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing axiom.toml")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(cliConfig.DataDir, 0700); err != nil {
		return axerr.New(axerr.Configuration, err)
	}

	path := filepath.Join(cliConfig.DataDir, "axiom.toml")
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return axerr.Newf(axerr.Configuration, "%s already exists (use --force to overwrite)", path)
		}
	}

	cfg := tomlConfig{
		P2PPort:  cliConfig.P2PPort,
		APIPort:  cliConfig.APIPort,
		Host:     cliConfig.Host,
		DataDir:  cliConfig.DataDir,
		LogLevel: cliConfig.LogLevel,
		Debug:    false,
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return axerr.New(axerr.Configuration, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return axerr.New(axerr.Configuration, err)
	}

	fmt.Println("Wrote", path)
	return nil
}
