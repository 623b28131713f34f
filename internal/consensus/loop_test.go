package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/common"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/ledger"
	"github.com/axiom-network/axiom/internal/model"
	"github.com/axiom-network/axiom/internal/storage"
)

type fakeBroadcaster struct {
	announced []*model.Block
}

func (f *fakeBroadcaster) AnnounceBlock(b *model.Block) error {
	f.announced = append(f.announced, b)
	return nil
}

func (f *fakeBroadcaster) PeerCount() int { return 0 }

func newTestLoop(t *testing.T) (*Loop, storage.Store, *axcrypto.Identity, *fakeBroadcaster) {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	t.Cleanup(func() { store.Close() })

	id, err := axcrypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	fp, err := id.Fingerprint()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	pub, err := id.PublicKeyBytes()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if err := store.UpsertValidator(&model.ValidatorRecord{Fingerprint: fp, PublicKey: pub, Stake: 100}); err != nil {
		t.Fatalf("err: %s", err)
	}

	cfg := config.NewDefaultConfig()
	lg := ledger.New(store, common.NewTestLogger(t))
	net := &fakeBroadcaster{}
	loop := New(cfg, id, store, lg, net, common.NewTestLogger(t))
	return loop, store, id, net
}

func TestProposeAsSoleValidator(t *testing.T) {
	assert := assert.New(t)
	loop, store, id, net := newTestLoop(t)

	fp, _ := id.Fingerprint()
	loop.setState(StateReady)
	loop.tick(fp) // accepts genesis, does not propose yet

	height, err := store.ChainHeight()
	assert.NoError(err)
	assert.Equal(int64(0), height)

	loop.setState(StateReady)
	loop.tick(fp) // now proposes height 1

	height, err = store.ChainHeight()
	assert.NoError(err)
	assert.Equal(int64(1), height)
	assert.Len(net.announced, 1)
}

func TestSingleVoteGuardPreventsDoubleSign(t *testing.T) {
	assert := assert.New(t)
	loop, store, id, _ := newTestLoop(t)

	fp, _ := id.Fingerprint()
	loop.setState(StateReady)
	loop.tick(fp) // accepts genesis, height becomes 0

	assert.NoError(store.SetLastSignedHeight(1))

	loop.setState(StateReady)
	loop.tick(fp)

	height, err := store.ChainHeight()
	assert.NoError(err)
	assert.Equal(int64(0), height, "height-1 proposal must be blocked by the single-vote guard")
}
