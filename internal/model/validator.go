package model

import "sort"

// ValidatorRecord describes one participant in leader rotation: its
// identity fingerprint and its stake weight. Only validators with
// Stake > 0 are eligible for leader selection.
type ValidatorRecord struct {
	Fingerprint string `json:"public_key_fingerprint"`
	PublicKey   []byte `json:"public_key"`
	Stake       int64  `json:"stake"`
}

// Active reports whether v currently carries a positive stake and is
// therefore eligible to be selected as leader.
func (v *ValidatorRecord) Active() bool {
	return v.Stake > 0
}

// SortValidatorsByFingerprint orders validators ascending by
// fingerprint, the order the leader-selection weighted prefix sum is
// built over.
func SortValidatorsByFingerprint(validators []*ValidatorRecord) {
	sort.Slice(validators, func(i, j int) bool {
		return validators[i].Fingerprint < validators[j].Fingerprint
	})
}
