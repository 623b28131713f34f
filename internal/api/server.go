// Package api implements Axiom's HTTP surface: a node's state exposed
// for reading, routed through go-chi/chi, with the number of handlers
// running at once capped by a fixed-size semaphore.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/ledger"
	"github.com/axiom-network/axiom/internal/model"
	"github.com/axiom-network/axiom/internal/storage"
)

// PeerSource is the subset of internal/p2p.Node the API needs to
// report peer and connectivity state, and to flood a locally-changed
// validator stake out to the network.
type PeerSource interface {
	PeerCount() int
	Peers() ([]*model.PeerRecord, error)
	AnnounceValidator(v *model.ValidatorRecord) error
}

// Proposer lets the debug endpoint force a consensus tick without the
// API package importing internal/consensus directly.
type Proposer interface {
	ForcePropose() error
}

// Server is the HTTP API's runtime handle: one *http.Server plus the
// dependencies every handler needs, all satisfied by narrow
// interfaces so this package never imports internal/p2p or
// internal/consensus concretely.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	ledger   *ledger.Ledger
	identity *axcrypto.Identity
	peers    PeerSource
	proposer Proposer
	logger   *logrus.Entry

	httpServer *http.Server
}

// New constructs a Server. proposer may be nil; the debug endpoint
// then reports 404 regardless of the debug flag.
func New(cfg *config.Config, store storage.Store, lg *ledger.Ledger, identity *axcrypto.Identity, peers PeerSource, proposer Proposer, logger *logrus.Entry) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		ledger:   lg,
		identity: identity,
		peers:    peers,
		proposer: proposer,
		logger:   logger.WithField("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsHeaders)
	r.Use(boundedConcurrency(config.HTTPWorkerPoolSize))

	r.Get("/status", s.handleStatus)
	r.Get("/get_chain_height", s.handleChainHeight)
	r.Get("/get_blocks", s.handleGetBlocks)
	r.Get("/get_peers", s.handleGetPeers)
	r.Get("/get_fact_ids", s.handleGetFactIDs)
	r.Post("/get_facts_by_id", s.handleGetFactsByID)
	r.Post("/validator/stake", s.handleValidatorStake)
	r.Post("/chat", s.handleChat)
	r.Post("/debug/propose_block", s.handleDebugProposeBlock)

	s.httpServer = &http.Server{
		Addr:              cfg.APIAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully,
// giving in-flight requests a chance to finish.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("serving HTTP API")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// boundedConcurrency caps the number of handlers executing at once,
// mirroring the bounded-queue discipline internal/p2p applies to
// outbound gossip: past the limit, further requests wait on the
// semaphore in the goroutine net/http already started for them.
func boundedConcurrency(size int) func(http.Handler) http.Handler {
	sem := make(chan struct{}, size)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sem <- struct{}{}
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		})
	}
}
