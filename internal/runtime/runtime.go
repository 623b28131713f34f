// Package runtime wires every component package into a single
// long-lived handle: one Runtime is constructed at process startup,
// owning the identity, transport, ledger, consensus loop, and API
// server together, and torn down at shutdown after every background
// task has joined.
package runtime

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axiom-network/axiom/internal/api"
	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/consensus"
	"github.com/axiom-network/axiom/internal/ledger"
	"github.com/axiom-network/axiom/internal/p2p"
	"github.com/axiom-network/axiom/internal/storage"
)

// ExitCode enumerates the process exit codes the CLI layer maps
// startup and runtime failures onto.
type ExitCode int

const (
	ExitOK                 ExitCode = 0
	ExitConfigurationError ExitCode = 1
	ExitInvariantViolation ExitCode = 2
	ExitUnrecoverableIO    ExitCode = 3
)

// Runtime is the fully wired node: storage, ledger, gossip transport,
// consensus loop, and HTTP API, plus the identity and TLS material
// they all share.
type Runtime struct {
	cfg      *config.Config
	identity *axcrypto.Identity
	store    storage.Store
	ledger   *ledger.Ledger
	node     *p2p.Node
	loop     *consensus.Loop
	api      *api.Server
	logger   *logrus.Entry
}

// New constructs a Runtime from cfg, loading or generating the node's
// identity and TLS certificate under cfg.DataDir, opening the badger
// store, and wiring the ledger/p2p/consensus/api layers together.
// It does not start any background task; call Run for that.
func New(cfg *config.Config) (*Runtime, error) {
	logger := cfg.Logger()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	identity, err := axcrypto.LoadOrGenerate(cfg.IdentityFilePath())
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	cert, err := axcrypto.LoadOrGenerateCert(cfg.CertFilePath(), cfg.KeyFilePath(), identity)
	if err != nil {
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}

	store, err := storage.NewBadgerStore(cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	if err := storage.CheckInvariants(store); err != nil {
		store.Close()
		return nil, &InvariantViolation{cause: err}
	}

	lg := ledger.New(store, logger)

	transport, err := p2p.Listen(cfg.P2PAddr(), axcrypto.ServerTLSConfig(cert))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("listening on p2p address: %w", err)
	}

	// loop is constructed before node so node can be handed loop's
	// LeaderFor/LookupValidator as plain function values — this is the
	// only point in the program that imports both internal/p2p and
	// internal/consensus.
	var node *p2p.Node
	loop := consensus.New(cfg, identity, store, lg, nil, logger)

	node, err = p2p.New(cfg, identity, store, lg, transport, logger, loop.LookupValidator, loop.LeaderFor)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("constructing p2p node: %w", err)
	}
	loop.SetBroadcaster(node)

	httpServer := api.New(cfg, store, lg, identity, node, loop, logger)

	return &Runtime{
		cfg:      cfg,
		identity: identity,
		store:    store,
		ledger:   lg,
		node:     node,
		loop:     loop,
		api:      httpServer,
		logger:   logger,
	}, nil
}

// InvariantViolation wraps a storage consistency failure detected at
// startup; the CLI layer maps it to exit code 2.
type InvariantViolation struct {
	cause error
}

func (e *InvariantViolation) Error() string { return fmt.Sprintf("invariant violation: %v", e.cause) }
func (e *InvariantViolation) Unwrap() error { return e.cause }

// Run starts every background task and blocks until ctx is cancelled,
// then waits up to config.ShutdownGrace for them to join.
func (r *Runtime) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(3)
	go func() { defer wg.Done(); errs <- r.node.Run(ctx) }()
	go func() { defer wg.Done(); errs <- r.loop.Run(ctx) }()
	go func() { defer wg.Done(); errs <- r.api.Run(ctx) }()

	<-ctx.Done()
	joined := make(chan struct{})
	go func() { wg.Wait(); close(joined) }()
	select {
	case <-joined:
	case <-time.After(config.ShutdownGrace):
		r.logger.Warn("components did not exit within the shutdown grace period")
		return nil
	}
	close(errs)

	for err := range errs {
		if err != nil {
			r.logger.WithError(err).Warn("component exited with error")
		}
	}
	return nil
}

// Close releases the storage handle. Call after Run returns.
func (r *Runtime) Close() error {
	return r.store.Close()
}

// Identity exposes the node's loaded identity, used by the CLI layer
// for one-off commands like printing the node's fingerprint.
func (r *Runtime) Identity() *axcrypto.Identity { return r.identity }
