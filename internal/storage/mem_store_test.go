package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/axiom-network/axiom/internal/model"
)

var _ Store = (*MemStore)(nil)

func TestMemStoreAppendBlockRequiresHeightOrder(t *testing.T) {
	assert := assert.New(t)
	store := NewMemStore()

	genesis := model.NewGenesisBlock()
	assert.NoError(store.AppendBlock(genesis))

	bad := &model.Block{Height: 5, PreviousHash: genesis.Hash}
	err := store.AppendBlock(bad)
	assert.True(Is(err, HeightGap))
}

func TestMemStoreAppendBlockRequiresHashLinkage(t *testing.T) {
	assert := assert.New(t)
	store := NewMemStore()

	genesis := model.NewGenesisBlock()
	assert.NoError(store.AppendBlock(genesis))

	block1 := &model.Block{Height: 1, PreviousHash: "not-the-genesis-hash", FactHashes: []string{}}
	assert.NoError(block1.ComputeHash())
	err := store.AppendBlock(block1)
	assert.True(Is(err, HashMismatch))
}

func TestMemStoreAppendBlockIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	store := NewMemStore()

	genesis := model.NewGenesisBlock()
	assert.NoError(store.AppendBlock(genesis))
	assert.NoError(store.AppendBlock(genesis))

	height, err := store.ChainHeight()
	assert.NoError(err)
	assert.Equal(int64(0), height)
}

func TestMemStoreAppendBlockRejectsConflictAtCommittedHeight(t *testing.T) {
	assert := assert.New(t)
	store := NewMemStore()

	genesis := model.NewGenesisBlock()
	assert.NoError(store.AppendBlock(genesis))

	conflicting := &model.Block{Height: 0, PreviousHash: genesis.PreviousHash, FactHashes: []string{}, Proposer: "someone-else"}
	assert.NoError(conflicting.ComputeHash())
	err := store.AppendBlock(conflicting)
	assert.True(Is(err, HashMismatch))
}

func TestMemStoreFactRoundTripAndSealing(t *testing.T) {
	assert := assert.New(t)
	store := NewMemStore()

	id, err := store.NextFactID()
	assert.NoError(err)
	assert.Equal(int64(0), id)

	f := &model.Fact{ID: id, Content: "water boils at 100C", Score: 2, Hash: "h1"}
	assert.NoError(store.PutFact(f))

	got, err := store.GetFactByID(id)
	assert.NoError(err)
	assert.Equal("h1", got.Hash)
	assert.True(got.Trusted())

	unsealed, err := store.ListUnsealedTrustedFacts(10)
	assert.NoError(err)
	assert.Len(unsealed, 1)

	assert.NoError(store.MarkFactsSealed([]string{f.Hash}, 1))

	unsealed, err = store.ListUnsealedTrustedFacts(10)
	assert.NoError(err)
	assert.Len(unsealed, 0)

	err = store.MarkFactsSealed([]string{f.Hash}, 2)
	assert.True(Is(err, AlreadySealed))
}

// TestMemStoreReturnsCopies guards against a common in-memory-store bug:
// handing out the live pointer would let a caller mutate state behind
// the store's back without going through an Upsert/Put call.
func TestMemStoreReturnsCopies(t *testing.T) {
	assert := assert.New(t)
	store := NewMemStore()

	p := &model.PeerRecord{Fingerprint: "abc", NetAddress: "10.0.0.1:7946"}
	assert.NoError(store.UpsertPeer(p))

	got, err := store.GetPeer("abc")
	assert.NoError(err)
	got.NetAddress = "mutated"

	got2, err := store.GetPeer("abc")
	assert.NoError(err)
	assert.Equal("10.0.0.1:7946", got2.NetAddress)
}

func TestMemStoreLastSignedHeightGuard(t *testing.T) {
	assert := assert.New(t)
	store := NewMemStore()

	h, err := store.LastSignedHeight()
	assert.NoError(err)
	assert.Equal(int64(-1), h)

	assert.NoError(store.SetLastSignedHeight(3))
	h, err = store.LastSignedHeight()
	assert.NoError(err)
	assert.Equal(int64(3), h)
}
