// Package storage persists the ledger's chain, fact set, peer table,
// and validator registry. It is the only package permitted to open the
// badger database; everything else goes through the Store interface.
package storage

import (
	"github.com/axiom-network/axiom/internal/model"
)

// Store is the durable backing for a node's entire local state.
// BadgerStore and the in-memory MemStore used by tests both satisfy
// it; code outside this package depends only on the interface.
type Store interface {
	// Chain

	ChainHeight() (int64, error)
	AppendBlock(b *model.Block) error
	GetBlockByHeight(height int64) (*model.Block, error)
	GetBlockByHash(hash string) (*model.Block, error)

	// Facts

	GetFactByHash(hash string) (*model.Fact, error)
	GetFactByID(id int64) (*model.Fact, error)
	PutFact(f *model.Fact) error
	NextFactID() (int64, error)
	ListUnsealedTrustedFacts(limit int) ([]*model.Fact, error)
	MarkFactsSealed(hashes []string, height int64) error
	ListFactHashes() ([]string, error)

	// Peers

	UpsertPeer(p *model.PeerRecord) error
	GetPeer(fingerprint string) (*model.PeerRecord, error)
	ListPeers() ([]*model.PeerRecord, error)

	// Validators

	UpsertValidator(v *model.ValidatorRecord) error
	GetValidator(fingerprint string) (*model.ValidatorRecord, error)
	ListValidators() ([]*model.ValidatorRecord, error)

	// Single-vote guard: the highest height this node has ever signed
	// as proposer, persisted so a restart cannot double-sign.
	LastSignedHeight() (int64, error)
	SetLastSignedHeight(height int64) error

	Close() error
}
