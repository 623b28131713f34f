package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/model"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewBadgerStore(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	height, err := store.ChainHeight()
	assert.NoError(err)
	assert.Equal(int64(-1), height)
}

func TestAppendBlockRequiresHeightOrder(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	genesis := model.NewGenesisBlock()
	assert.NoError(store.AppendBlock(genesis))

	bad := &model.Block{Height: 5, PreviousHash: genesis.Hash}
	err := store.AppendBlock(bad)
	assert.True(Is(err, HeightGap))
}

func TestAppendBlockRequiresHashLinkage(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	genesis := model.NewGenesisBlock()
	assert.NoError(store.AppendBlock(genesis))

	block1 := &model.Block{Height: 1, PreviousHash: "not-the-genesis-hash", FactHashes: []string{}}
	assert.NoError(block1.ComputeHash())
	err := store.AppendBlock(block1)
	assert.True(Is(err, HashMismatch))
}

func TestAppendBlockIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	genesis := model.NewGenesisBlock()
	assert.NoError(store.AppendBlock(genesis))
	assert.NoError(store.AppendBlock(genesis))

	height, err := store.ChainHeight()
	assert.NoError(err)
	assert.Equal(int64(0), height)
}

func TestAppendBlockRejectsConflictAtCommittedHeight(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	genesis := model.NewGenesisBlock()
	assert.NoError(store.AppendBlock(genesis))

	conflicting := &model.Block{Height: 0, PreviousHash: genesis.PreviousHash, FactHashes: []string{}, Proposer: "someone-else"}
	assert.NoError(conflicting.ComputeHash())
	err := store.AppendBlock(conflicting)
	assert.True(Is(err, HashMismatch))
}

func TestFactRoundTripAndSealing(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	id, err := store.NextFactID()
	assert.NoError(err)
	assert.Equal(int64(0), id)

	f := &model.Fact{
		ID:        id,
		Content:   "the sky is blue",
		Score:     2,
		CreatedAt: time.Now(),
	}
	raw, err := f.CanonicalBytes()
	assert.NoError(err)
	f.Hash = axcrypto.SHA256Hex(raw)

	assert.NoError(store.PutFact(f))

	got, err := store.GetFactByID(id)
	assert.NoError(err)
	assert.Equal(f.Hash, got.Hash)
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

func TestPeerReputationPersists(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	p := &model.PeerRecord{Fingerprint: "abc", NetAddress: "10.0.0.1:7946"}
	assert.NoError(store.UpsertPeer(p))

	p.Adjust(model.ReputationDeltaBadBlock, time.Now(), time.Hour)
	assert.NoError(store.UpsertPeer(p))

	got, err := store.GetPeer("abc")
	assert.NoError(err)
	assert.True(got.Blacklisted)
}

func TestLastSignedHeightGuard(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	h, err := store.LastSignedHeight()
	assert.NoError(err)
	assert.Equal(int64(-1), h)

	assert.NoError(store.SetLastSignedHeight(3))
	h, err = store.LastSignedHeight()
	assert.NoError(err)
	assert.Equal(int64(3), h)
}
