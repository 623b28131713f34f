package commands

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/axiom-network/axiom/internal/axerr"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/runtime"
)

// NewRunCmd returns the command that starts an Axiom node: the P2P
// listener, consensus loop, and HTTP API, wired together by
// internal/runtime, until the process receives a termination signal.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int("p2p-port", cliConfig.P2PPort, "TCP port the gossip transport listens on")
	cmd.Flags().Int("api-port", cliConfig.APIPort, "TCP port the HTTP API listens on")
	cmd.Flags().String("host", cliConfig.Host, "Bind address for the P2P and HTTP listeners")
	cmd.Flags().StringArray("bootstrap-peer", nil, "Bootstrap peer URL to contact at startup (repeatable)")
	cmd.Flags().String("data-dir", cliConfig.DataDir, "Top-level directory for node state")
	cmd.Flags().String("identity", "", "Override the default <data-dir>/identity.pem location")
	cmd.Flags().Bool("shared-keys", cliConfig.SharedKeys, "Test-only: every node sharing this flag uses the same keypair")
	cmd.Flags().String("log-level", cliConfig.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("debug", cliConfig.Debug, "Enable debug-only endpoints such as /debug/propose_block")
}

// loadConfig binds flags into viper, merges a <data-dir>/axiom.toml if
// present, applies AXIOM_-prefixed environment variables, and
// populates cliConfig, letting viper's own precedence order across
// config/env/flags do the merge in one unmarshal.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return axerr.New(axerr.Configuration, err)
	}

	viper.SetEnvPrefix("AXIOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	dataDir := viper.GetString("data-dir")
	if dataDir == "" {
		dataDir = cliConfig.DataDir
	}
	viper.SetConfigName("axiom")
	viper.SetConfigType("toml")
	viper.AddConfigPath(dataDir)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return axerr.New(axerr.Configuration, err)
		}
	}

	if err := viper.Unmarshal(cliConfig); err != nil {
		return axerr.New(axerr.Configuration, err)
	}

	if cliConfig.P2PPort <= 0 || cliConfig.P2PPort > 65535 {
		return axerr.Newf(axerr.Configuration, "--p2p-port must be between 1 and 65535, got %d", cliConfig.P2PPort)
	}
	if cliConfig.APIPort <= 0 || cliConfig.APIPort > 65535 {
		return axerr.Newf(axerr.Configuration, "--api-port must be between 1 and 65535, got %d", cliConfig.APIPort)
	}
	if cliConfig.SharedKeys && cliConfig.IdentityPath == "" {
		cliConfig.IdentityPath = sharedIdentityPath()
	}
	return nil
}

func runNode(cmd *cobra.Command, args []string) error {
	logger := cliConfig.Logger()

	rt, err := runtime.New(cliConfig)
	if err != nil {
		if _, ok := err.(*runtime.InvariantViolation); ok {
			logger.WithError(err).Error("refusing to start: ledger invariant violation")
			os.Exit(int(runtime.ExitInvariantViolation))
		}
		logger.WithError(err).Error("failed to construct node runtime")
		os.Exit(int(runtime.ExitConfigurationError))
	}

	fp, err := rt.Identity().Fingerprint()
	if err != nil {
		logger.WithError(err).Error("reading node identity")
		rt.Close()
		os.Exit(int(runtime.ExitUnrecoverableIO))
	}

	logger.WithFields(logrus.Fields{
		"fingerprint": fp,
		"p2p_addr":    cliConfig.P2PAddr(),
		"api_addr":    cliConfig.APIAddr(),
		"data_dir":    cliConfig.DataDir,
	}).Info("starting axiom node")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := rt.Run(ctx)
	if closeErr := rt.Close(); closeErr != nil {
		logger.WithError(closeErr).Warn("closing storage")
	}
	if runErr != nil {
		logger.WithError(runErr).Error("node runtime exited with error")
		os.Exit(int(runtime.ExitUnrecoverableIO))
	}
	return nil
}

// sharedIdentityPath is the fixed location every --shared-keys node
// points its identity at, per axcrypto.LoadOrGenerate's doc comment:
// the CLI layer, not the crypto package, is responsible for routing
// all shared-keys nodes to the same physical file.
func sharedIdentityPath() string {
	return config.DefaultDataDir() + "/shared-identity.pem"
}
