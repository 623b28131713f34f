package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/model"
)

func TestSelectLeaderIsDeterministic(t *testing.T) {
	assert := assert.New(t)

	validators := []*model.ValidatorRecord{
		{Fingerprint: "aaa", Stake: 10},
		{Fingerprint: "bbb", Stake: 30},
		{Fingerprint: "ccc", Stake: 60},
	}

	first, err := SelectLeader(validators, axcrypto.ZeroHash, 7)
	assert.NoError(err)

	second, err := SelectLeader(validators, axcrypto.ZeroHash, 7)
	assert.NoError(err)

	assert.Equal(first.Fingerprint, second.Fingerprint)
}

func TestSelectLeaderIgnoresZeroStakeValidators(t *testing.T) {
	assert := assert.New(t)

	validators := []*model.ValidatorRecord{
		{Fingerprint: "aaa", Stake: 0},
		{Fingerprint: "bbb", Stake: 100},
	}

	leader, err := SelectLeader(validators, axcrypto.ZeroHash, 1)
	assert.NoError(err)
	assert.Equal("bbb", leader.Fingerprint)
}

func TestSelectLeaderNoActiveValidators(t *testing.T) {
	assert := assert.New(t)

	_, err := SelectLeader([]*model.ValidatorRecord{{Fingerprint: "aaa", Stake: 0}}, axcrypto.ZeroHash, 1)
	assert.Error(err)
}

func TestSelectLeaderVariesAcrossSlots(t *testing.T) {
	assert := assert.New(t)

	validators := []*model.ValidatorRecord{
		{Fingerprint: "aaa", Stake: 50},
		{Fingerprint: "bbb", Stake: 50},
	}

	seen := map[string]bool{}
	for slot := int64(0); slot < 20; slot++ {
		leader, err := SelectLeader(validators, axcrypto.ZeroHash, slot)
		assert.NoError(err)
		seen[leader.Fingerprint] = true
	}
	assert.Len(seen, 2)
}
