// Package ledger implements the fact lifecycle and block
// construction/validation algorithms — the core business logic that
// sits between raw storage and the consensus/P2P tasks that drive it.
package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/axerr"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/model"
	"github.com/axiom-network/axiom/internal/storage"
)

// SourceRecord mirrors model.SourceRecord; kept as a distinct alias
// point so external-collaborator contracts reference a name rooted in
// this package rather than reaching into model directly.
type SourceRecord = model.SourceRecord

// Ledger owns fact lifecycle operations and block construction/
// validation. It holds no network or consensus-timing knowledge; it
// is driven by internal/consensus and internal/p2p.
type Ledger struct {
	store    storage.Store
	logger   *logrus.Entry
	onCommit func(height int64, hash string)
}

// New constructs a Ledger backed by store.
func New(store storage.Store, logger *logrus.Entry) *Ledger {
	return &Ledger{store: store, logger: logger.WithField("component", "ledger")}
}

// OnCommit registers a callback invoked after a block is committed,
// used by the consensus loop for its AWAITING->READY transition on
// BLOCK_COMMITTED.
func (l *Ledger) OnCommit(fn func(height int64, hash string)) {
	l.onCommit = fn
}

// IngestFact records a brand-new candidate fact from the external
// fact-extraction collaborator. The fact starts at score=1 with the
// single given source.
func (l *Ledger) IngestFact(content string, semantics json.RawMessage, source SourceRecord) (*model.Fact, error) {
	if content == "" {
		return nil, axerr.Newf(axerr.Protocol, "fact content must not be empty")
	}

	id, err := l.store.NextFactID()
	if err != nil {
		return nil, axerr.New(axerr.Storage, err)
	}

	f := &model.Fact{
		ID:        id,
		Content:   content,
		Semantics: semantics,
		Score:     1,
		Sources:   []model.SourceRecord{source},
		CreatedAt: time.Now().UTC(),
	}
	raw, err := f.CanonicalBytes()
	if err != nil {
		return nil, axerr.New(axerr.Crypto, err)
	}
	f.Hash = axcrypto.SHA256Hex(raw)

	if err := l.store.PutFact(f); err != nil {
		return nil, axerr.New(axerr.Storage, err)
	}
	l.logger.WithFields(logrus.Fields{"fact_id": f.ID, "hash": f.Hash}).Info("ingested fact")
	return f, nil
}

// Corroborate increments factHash's score and records source, unless
// source has already corroborated this fact — ported from
// add_fact_object_corroboration's "does nothing if the source already
// exists" rule.
func (l *Ledger) Corroborate(factHash string, source SourceRecord) error {
	f, err := l.store.GetFactByHash(factHash)
	if err != nil {
		return axerr.New(axerr.NotFound, err)
	}

	if f.HasSource(source.Domain) {
		return nil
	}

	f.Sources = append(f.Sources, source)
	f.Score++
	if err := l.store.PutFact(f); err != nil {
		return axerr.New(axerr.Storage, err)
	}
	l.logger.WithFields(logrus.Fields{"fact_hash": factHash, "score": f.Score}).Info("corroborated fact")
	return nil
}

// Dispute marks both facts as disputed and links them with a
// dispute-weighted edge, porting mark_fact_objects_as_disputed.
func (l *Ledger) Dispute(factHashA, factHashB string) error {
	a, err := l.store.GetFactByHash(factHashA)
	if err != nil {
		return axerr.New(axerr.NotFound, err)
	}
	b, err := l.store.GetFactByHash(factHashB)
	if err != nil {
		return axerr.New(axerr.NotFound, err)
	}

	a.Disputed = true
	b.Disputed = true
	a.Links = append(a.Links, model.Link{TargetHash: b.Hash, Kind: model.RelationContrast, Weight: -1})
	b.Links = append(b.Links, model.Link{TargetHash: a.Hash, Kind: model.RelationContrast, Weight: -1})

	if err := l.store.PutFact(a); err != nil {
		return axerr.New(axerr.Storage, err)
	}
	if err := l.store.PutFact(b); err != nil {
		return axerr.New(axerr.Storage, err)
	}
	l.logger.WithFields(logrus.Fields{"fact_a": a.Hash, "fact_b": b.Hash}).Warn("marked facts disputed")
	return nil
}

// Link records a relationship edge from factHash to targetHash without
// affecting dispute or score state.
func (l *Ledger) Link(factHash, targetHash string, kind model.RelationshipKind, weight int) error {
	f, err := l.store.GetFactByHash(factHash)
	if err != nil {
		return axerr.New(axerr.NotFound, err)
	}
	f.Links = append(f.Links, model.Link{TargetHash: targetHash, Kind: kind, Weight: weight})
	if err := l.store.PutFact(f); err != nil {
		return axerr.New(axerr.Storage, err)
	}
	return nil
}

// ChainHeight returns the local chain tip height, or -1 if empty.
func (l *Ledger) ChainHeight() (int64, error) {
	return l.store.ChainHeight()
}

// tip returns the current chain-tip block, or nil if the chain is empty.
func (l *Ledger) tip() (*model.Block, error) {
	height, err := l.store.ChainHeight()
	if err != nil {
		return nil, err
	}
	if height < 0 {
		return nil, nil
	}
	return l.store.GetBlockByHeight(height)
}

// ProposeBlock builds a new candidate block for the next height,
// selecting up to config.MaxFactsPerBlock unsealed trusted facts. It
// does not sign or commit the block; the caller (internal/consensus)
// is responsible for both, respecting the single-vote rule.
func (l *Ledger) ProposeBlock(proposerFingerprint string) (*model.Block, error) {
	tip, err := l.tip()
	if err != nil {
		return nil, axerr.New(axerr.Storage, err)
	}

	var height int64
	var prevHash string
	if tip == nil {
		height = 0
		prevHash = axcrypto.ZeroHash
	} else {
		height = tip.Height + 1
		prevHash = tip.Hash
	}

	facts, err := l.store.ListUnsealedTrustedFacts(config.MaxFactsPerBlock)
	if err != nil {
		return nil, axerr.New(axerr.Storage, err)
	}

	hashes := make([]string, 0, len(facts))
	for _, f := range facts {
		hashes = append(hashes, f.Hash)
	}
	model.SortFactHashes(hashes)

	nonce, err := randomNonce()
	if err != nil {
		return nil, axerr.New(axerr.Crypto, err)
	}

	b := &model.Block{
		Height:       height,
		PreviousHash: prevHash,
		FactHashes:   hashes,
		Proposer:     proposerFingerprint,
		Timestamp:    time.Now().UTC().Unix(),
		Nonce:        nonce,
	}
	return b, nil
}

func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
