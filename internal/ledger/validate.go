package ledger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/axerr"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/model"
)

// FactFetcher pulls missing facts from the peer a block came from,
// used by ValidateAndCommit's content check. internal/p2p implements this
// by issuing REQUEST_FACTS and waiting for the FACTS reply.
type FactFetcher func(ctx context.Context, hashes []string) ([]*model.Fact, error)

// ValidatorLookup resolves a fingerprint to its known public key and
// stake, backed by internal/storage's validator registry.
type ValidatorLookup func(fingerprint string) (*model.ValidatorRecord, error)

// LeaderFunc computes the expected leader fingerprint for a height and
// slot, given the previous block's hash. internal/consensus supplies
// the concrete selection rule; ledger only needs to ask "who was
// supposed to propose this". The slot must be the one the block was
// actually proposed in (derived from its own Timestamp), never the
// caller's wall-clock slot, or a block validated near a slot boundary
// is judged against the wrong leader.
type LeaderFunc func(previousHash string, height int64, slot int64) (string, error)

// Outcome classifies how ValidateAndCommit disposed of a block, so the
// caller (internal/p2p) knows what to do next: commit, buffer for
// chain-sync, or apply a reputation penalty.
type Outcome int

const (
	// Accepted means the block was valid and has been committed.
	Accepted Outcome = iota
	// Duplicate means the block matches one already committed (idempotent).
	Duplicate
	// NeedsSync means the block is ahead of the local tip; the caller
	// should buffer it and request a chain-sync from the sender.
	NeedsSync
	// Stale means the block is at or behind the local tip and does not
	// match the committed block at that height.
	Stale
	// Rejected means the block failed structural, authority, content,
	// or invariant checks and the sender should be penalized.
	Rejected
)

// ValidateAndCommit runs the full validation pipeline against b
// and, on success, commits it. It never returns a bare untyped error
// for protocol-level rejections — those are reported via Outcome so
// the P2P layer can apply the correct reputation delta without string
// matching.
func (l *Ledger) ValidateAndCommit(ctx context.Context, b *model.Block, lookupValidator ValidatorLookup, leaderFor LeaderFunc, fetchFacts FactFetcher) (Outcome, error) {
	if outcome, err := l.checkStructural(b, lookupValidator); outcome != Accepted {
		return outcome, err
	}

	tip, err := l.tip()
	if err != nil {
		return Rejected, axerr.New(axerr.Storage, err)
	}

	outcome, err := l.checkLinkage(b, tip)
	if outcome != Accepted {
		return outcome, err
	}

	if !b.IsGenesis() {
		slot := b.Timestamp / int64(config.SlotDuration/time.Second)
		expectedLeader, err := leaderFor(b.PreviousHash, b.Height, slot)
		if err != nil {
			return Rejected, axerr.New(axerr.Consensus, err)
		}
		if b.Proposer != expectedLeader {
			return Rejected, axerr.Newf(axerr.Consensus, "block at height %d proposed by %s, expected leader %s", b.Height, b.Proposer, expectedLeader)
		}
	}

	if err := l.checkContent(ctx, b, fetchFacts); err != nil {
		return Rejected, err
	}

	if err := l.checkFactInvariants(b); err != nil {
		return Rejected, err
	}

	if err := l.commit(b); err != nil {
		return Rejected, axerr.New(axerr.Storage, err)
	}
	return Accepted, nil
}

func (l *Ledger) checkStructural(b *model.Block, lookupValidator ValidatorLookup) (Outcome, error) {
	if b.Height < 0 || b.Proposer == "" {
		return Rejected, axerr.Newf(axerr.Protocol, "block missing required fields")
	}
	if len(b.FactHashes) > config.MaxFactsPerBlock {
		return Rejected, axerr.Newf(axerr.Consensus, "block at height %d carries %d facts, more than the %d maximum", b.Height, len(b.FactHashes), config.MaxFactsPerBlock)
	}
	if b.IsGenesis() {
		return Accepted, nil
	}
	if !axcrypto.IsValidHash(b.PreviousHash) || !axcrypto.IsValidHash(b.Hash) {
		return Rejected, axerr.Newf(axerr.Protocol, "block hash fields are not valid hex")
	}

	validator, err := lookupValidator(b.Proposer)
	if err != nil {
		return Rejected, axerr.New(axerr.NotFound, err)
	}

	ok, err := b.VerifySignature(validator.PublicKey)
	if err != nil || !ok {
		return Rejected, axerr.Newf(axerr.Crypto, "block signature does not verify for proposer %s", b.Proposer)
	}
	return Accepted, nil
}

func (l *Ledger) checkLinkage(b *model.Block, tip *model.Block) (Outcome, error) {
	var tipHeight int64 = -1
	var tipHash string
	if tip != nil {
		tipHeight = tip.Height
		tipHash = tip.Hash
	}

	switch {
	case b.Height == tipHeight+1:
		if tip != nil && b.PreviousHash != tipHash {
			return Rejected, axerr.Newf(axerr.Consensus, "block at height %d has previous_hash %s, local tip is %s", b.Height, b.PreviousHash, tipHash)
		}
		return Accepted, nil
	case b.Height > tipHeight+1:
		return NeedsSync, nil
	default:
		existing, err := l.store.GetBlockByHeight(b.Height)
		if err == nil && existing.Hash == b.Hash {
			return Duplicate, nil
		}
		return Stale, nil
	}
}

func (l *Ledger) checkContent(ctx context.Context, b *model.Block, fetchFacts FactFetcher) error {
	missing := make([]string, 0)
	for _, h := range b.FactHashes {
		if _, err := l.store.GetFactByHash(h); err != nil {
			missing = append(missing, h)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	pullCtx, cancel := context.WithTimeout(ctx, config.FactPullTimeout)
	defer cancel()

	facts, err := fetchFacts(pullCtx, missing)
	if err != nil {
		return axerr.New(axerr.Timeout, err)
	}
	for _, f := range facts {
		if err := l.store.PutFact(f); err != nil {
			return axerr.New(axerr.Storage, err)
		}
	}

	for _, h := range missing {
		if _, err := l.store.GetFactByHash(h); err != nil {
			return axerr.Newf(axerr.Consensus, "fact %s still missing after pull", h)
		}
	}
	return nil
}

func (l *Ledger) checkFactInvariants(b *model.Block) error {
	seen := make(map[string]bool, len(b.FactHashes))
	for _, h := range b.FactHashes {
		if seen[h] {
			return axerr.Newf(axerr.Consensus, "fact %s appears twice in block at height %d", h, b.Height)
		}
		seen[h] = true

		f, err := l.store.GetFactByHash(h)
		if err != nil {
			return axerr.New(axerr.NotFound, err)
		}
		if f.Sealed {
			return axerr.Newf(axerr.Consensus, "fact %s already sealed in block %d", h, f.SealedIn)
		}
	}
	return nil
}

func (l *Ledger) commit(b *model.Block) error {
	// AppendBlock seals every fact in b.FactHashes as part of the same
	// storage transaction as the block write itself, so a crash between
	// "block committed" and "facts sealed" can never happen.
	if err := l.store.AppendBlock(b); err != nil {
		return err
	}
	l.logger.WithFields(logrus.Fields{"height": b.Height, "hash": b.Hash, "facts": len(b.FactHashes)}).Info("committed block")
	if l.onCommit != nil {
		l.onCommit(b.Height, b.Hash)
	}
	return nil
}

// AcceptGenesis commits the well-known genesis block if and only if
// the local chain is currently empty, per the boundary behavior in
// the testable-properties section: "accepted only if absent locally".
func (l *Ledger) AcceptGenesis() error {
	height, err := l.store.ChainHeight()
	if err != nil {
		return axerr.New(axerr.Storage, err)
	}
	if height >= 0 {
		return nil
	}
	return l.commit(model.NewGenesisBlock())
}
