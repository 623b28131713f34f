package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/axiom-network/axiom/internal/storage"
)

func newTestPeerTable(t *testing.T) *PeerTable {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewPeerTable(store)
}

func TestReputationDecrementsAndBlacklists(t *testing.T) {
	assert := assert.New(t)
	table := newTestPeerTable(t)

	fp := "peer-fingerprint"
	assert.NoError(table.Register(fp, "10.0.0.1:7946", nil, nil))

	for i := 0; i < 5; i++ {
		assert.NoError(table.AdjustReputation(fp, -5))
	}

	assert.True(table.IsBlacklisted(fp))

	_, err := table.store.GetPeer(fp)
	assert.NoError(err)
}

func TestTopByReputationOrdersDescending(t *testing.T) {
	assert := assert.New(t)
	table := newTestPeerTable(t)

	assert.NoError(table.Register("low", "10.0.0.1:1", nil, nil))
	assert.NoError(table.Register("high", "10.0.0.2:1", nil, nil))
	assert.NoError(table.AdjustReputation("high", 10))

	top, err := table.TopByReputation(10)
	assert.NoError(err)
	assert.Equal("high", top[0].Fingerprint)

	_ = time.Now()
}
