// Package consensus runs the slotted, proof-of-stake-flavored
// leader-rotation loop: every node independently computes the leader
// for the current slot, proposes when it is the leader, and otherwise
// waits or catches up.
package consensus

import (
	"encoding/binary"
	"math/big"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/model"
)

// SelectLeader enumerates active validators (stake>0) sorted ascending
// by fingerprint, builds a weighted prefix sum over stake, and picks
// the first validator whose prefix sum strictly exceeds
// selector = SHA256(previousHash||slot) mod T.
func SelectLeader(validators []*model.ValidatorRecord, previousHash string, slot int64) (*model.ValidatorRecord, error) {
	active := make([]*model.ValidatorRecord, 0, len(validators))
	for _, v := range validators {
		if v.Active() {
			active = append(active, v)
		}
	}
	if len(active) == 0 {
		return nil, errNoActiveValidators
	}
	model.SortValidatorsByFingerprint(active)

	var total int64
	for _, v := range active {
		total += v.Stake
	}

	selector := selectorFor(previousHash, slot, total)

	var prefix int64
	for _, v := range active {
		prefix += v.Stake
		if big.NewInt(prefix).Cmp(selector) > 0 {
			return v, nil
		}
	}
	// Unreachable when total > 0, since the final prefix sum equals
	// total which always exceeds selector < total.
	return active[len(active)-1], nil
}

// selectorFor computes SHA256(previousHash || slot) mod total as a
// big.Int, since total may exceed what fits in a plain int64 product
// safely and the hash itself is naturally a big integer.
func selectorFor(previousHash string, slot int64, total int64) *big.Int {
	var slotBuf [8]byte
	binary.BigEndian.PutUint64(slotBuf[:], uint64(slot))

	digest := axcrypto.SHA256(append([]byte(previousHash), slotBuf[:]...))
	h := new(big.Int).SetBytes(digest)
	return new(big.Int).Mod(h, big.NewInt(total))
}

var errNoActiveValidators = leaderError("consensus: no active validators")

type leaderError string

func (e leaderError) Error() string { return string(e) }
