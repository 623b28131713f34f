package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/axerr"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/ledger"
	"github.com/axiom-network/axiom/internal/model"
	"github.com/axiom-network/axiom/internal/storage"
)

// State is the consensus loop's state machine:
// INIT -> SYNCING -> READY <-> PROPOSING <-> AWAITING -> READY.
type State int

const (
	StateInit State = iota
	StateSyncing
	StateReady
	StateProposing
	StateAwaiting
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSyncing:
		return "SYNCING"
	case StateReady:
		return "READY"
	case StateProposing:
		return "PROPOSING"
	case StateAwaiting:
		return "AWAITING"
	default:
		return "UNKNOWN"
	}
}

// Broadcaster is the subset of internal/p2p.Node the loop needs:
// announcing a locally signed block and reporting how many peers are
// connected. Catch-up itself runs inside internal/p2p, not in the loop.
type Broadcaster interface {
	AnnounceBlock(b *model.Block) error
	PeerCount() int
}

// Loop drives block proposal on a SLOT_DURATION cadence. It never
// blocks on network I/O directly; AnnounceBlock hands off to the
// p2p layer's own bounded queues.
type Loop struct {
	cfg      *config.Config
	identity *axcrypto.Identity
	store    storage.Store
	ledger   *ledger.Ledger
	net      Broadcaster
	logger   *logrus.Entry

	mu              sync.Mutex
	state           State
	awaitingHash    string
	awaitingDeadline time.Time
}

// New constructs a consensus Loop.
func New(cfg *config.Config, identity *axcrypto.Identity, store storage.Store, lg *ledger.Ledger, net Broadcaster, logger *logrus.Entry) *Loop {
	l := &Loop{
		cfg:      cfg,
		identity: identity,
		store:    store,
		ledger:   lg,
		net:      net,
		logger:   logger.WithField("component", "consensus"),
		state:    StateInit,
	}
	lg.OnCommit(l.onBlockCommitted)
	return l
}

// SetBroadcaster wires the gossip layer in after construction, since
// internal/p2p.Node itself needs the loop's LeaderFor/LookupValidator
// function values before it can be built.
func (l *Loop) SetBroadcaster(net Broadcaster) {
	l.net = net
}

// State returns the loop's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != s {
		l.logger.WithFields(logrus.Fields{"from": l.state, "to": s}).Debug("state transition")
		l.state = s
	}
}

// onBlockCommitted implements the AWAITING->READY transition on
// BLOCK_COMMITTED for the proposed hash, or leaves other states
// untouched when the commit belongs to someone else's proposal.
func (l *Loop) onBlockCommitted(height int64, hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateAwaiting && hash == l.awaitingHash {
		l.state = StateReady
	}
}

// LeaderFor implements ledger.LeaderFunc: the expected proposer
// fingerprint for the block that would follow previousHash, at the
// given slot. internal/p2p calls this while validating an inbound
// block with the slot derived from the block's own Timestamp, never
// the verifier's wall clock — the two can legitimately disagree across
// a slot boundary or during catch-up over historical blocks.
func (l *Loop) LeaderFor(previousHash string, height int64, slot int64) (string, error) {
	validators, err := l.store.ListValidators()
	if err != nil {
		return "", err
	}
	v, err := SelectLeader(validators, previousHash, slot)
	if err != nil {
		return "", err
	}
	return v.Fingerprint, nil
}

// LookupValidator implements ledger.ValidatorLookup.
func (l *Loop) LookupValidator(fingerprint string) (*model.ValidatorRecord, error) {
	return l.store.GetValidator(fingerprint)
}

func currentSlot() int64 {
	return time.Now().Unix() / int64(config.SlotDuration/time.Second)
}

// Run drives the slot loop until ctx is cancelled. Once a second it
// checks whether this node is the expected leader for the next height
// in the current slot and, if so, not already awaiting a commit, and no
// block has yet been proposed in this slot, proposes and broadcasts one.
func (l *Loop) Run(ctx context.Context) error {
	fp, err := l.identity.Fingerprint()
	if err != nil {
		return err
	}

	l.setState(StateReady)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.tick(fp)
		}
	}
}

// ForcePropose drives a single proposal attempt regardless of whether
// this node is the computed leader for the next slot, for the
// debug-only /debug/propose_block HTTP endpoint.
func (l *Loop) ForcePropose() error {
	fp, err := l.identity.Fingerprint()
	if err != nil {
		return err
	}

	height, err := l.ledger.ChainHeight()
	if err != nil {
		return err
	}
	if height < 0 {
		return l.ledger.AcceptGenesis()
	}

	lastSigned, err := l.store.LastSignedHeight()
	if err != nil {
		return err
	}
	if lastSigned >= height+1 {
		return axerr.Newf(axerr.Consensus, "height %d already signed", height+1)
	}

	l.setState(StateReady)
	l.propose(fp, height+1)
	return nil
}

func (l *Loop) tick(fp string) {
	if l.State() == StateAwaiting {
		l.mu.Lock()
		expired := time.Now().After(l.awaitingDeadline)
		l.mu.Unlock()
		if !expired {
			return
		}
		l.setState(StateReady)
	}

	if l.State() != StateReady {
		return
	}

	height, err := l.ledger.ChainHeight()
	if err != nil {
		l.logger.WithError(err).Warn("reading chain height")
		return
	}

	if height < 0 {
		if err := l.ledger.AcceptGenesis(); err != nil {
			l.logger.WithError(err).Warn("accepting genesis")
		}
		return
	}

	validators, err := l.store.ListValidators()
	if err != nil {
		l.logger.WithError(err).Warn("listing validators")
		return
	}
	tip, err := l.store.GetBlockByHeight(height)
	if err != nil {
		l.logger.WithError(err).Warn("reading chain tip")
		return
	}

	slot := currentSlot()
	if tip.Timestamp/int64(config.SlotDuration/time.Second) == slot {
		// The tip was already proposed in this slot; at most one block
		// per slot, so wait for the next one.
		return
	}
	leader, err := SelectLeader(validators, tip.Hash, slot)
	if err != nil {
		return
	}
	if leader.Fingerprint != fp {
		return
	}

	lastSigned, err := l.store.LastSignedHeight()
	if err != nil {
		l.logger.WithError(err).Warn("reading last signed height")
		return
	}
	if lastSigned >= height+1 {
		// Single-vote rule: never sign twice for the same height.
		return
	}

	l.propose(fp, height+1)
}

func (l *Loop) propose(fp string, height int64) {
	l.setState(StateProposing)

	b, err := l.ledger.ProposeBlock(fp)
	if err != nil {
		l.logger.WithError(err).Warn("constructing proposal")
		l.setState(StateReady)
		return
	}
	if b.Height != height {
		// Local tip moved under us (e.g. caught up via gossip); skip
		// this tick and let the next one recompute.
		l.setState(StateReady)
		return
	}

	if err := l.store.SetLastSignedHeight(height); err != nil {
		l.logger.WithError(err).Warn("persisting last signed height")
		l.setState(StateReady)
		return
	}
	if err := b.Sign(l.identity); err != nil {
		l.logger.WithError(err).Warn("signing proposal")
		l.setState(StateReady)
		return
	}

	l.mu.Lock()
	l.awaitingHash = b.Hash
	l.awaitingDeadline = time.Now().Add(config.SlotDuration)
	l.mu.Unlock()
	l.setState(StateAwaiting)

	// The proposer commits its own block through the same validation
	// pipeline a peer would use, rather than trusting its own output
	// blindly; every fact it just selected is by construction already
	// local, so the fetcher is never called.
	noopFetch := func(ctx context.Context, hashes []string) ([]*model.Fact, error) { return nil, nil }
	if _, err := l.ledger.ValidateAndCommit(context.Background(), b, l.LookupValidator, l.LeaderFor, noopFetch); err != nil {
		l.logger.WithError(err).Warn("committing own proposal")
	}

	if err := l.net.AnnounceBlock(b); err != nil {
		l.logger.WithError(err).Warn("announcing proposal")
	}
	l.logger.WithFields(logrus.Fields{"height": b.Height, "hash": b.Hash}).Info("proposed block")
}
