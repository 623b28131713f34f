package model

import (
	"encoding/json"
	"sort"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/pkg/errors"
)

// Block is a sealed batch of fact hashes, chained to its predecessor
// by height and previous_hash, and signed by a single RSA proposer
// key. Hashing and signing follow a Marshal/Hash/Sign/Verify shape.
type Block struct {
	Height       int64    `json:"height"`
	PreviousHash string   `json:"previous_hash"`
	FactHashes   []string `json:"fact_hashes"`
	Proposer     string   `json:"proposer"`
	Timestamp    int64    `json:"timestamp"`
	Nonce        uint64   `json:"nonce"`
	Hash         string   `json:"hash"`
	Signature    []byte   `json:"signature"`
}

// blockHashPayload is the canonical, field-ordered subset of Block
// that is hashed to produce Block.Hash. fact_hashes must already be
// sorted lexicographically ascending by the caller.
type blockHashPayload struct {
	Height       int64    `json:"height"`
	PreviousHash string   `json:"previous_hash"`
	FactHashes   []string `json:"fact_hashes"`
	Proposer     string   `json:"proposer"`
	Timestamp    int64    `json:"timestamp"`
	Nonce        uint64   `json:"nonce"`
}

// SortFactHashes sorts a slice of fact hashes lexicographically
// ascending, as required for both block construction and validation.
func SortFactHashes(hashes []string) {
	sort.Strings(hashes)
}

// CanonicalBytes returns the canonical byte encoding used to compute
// and verify Block.Hash.
func (b *Block) CanonicalBytes() ([]byte, error) {
	payload := blockHashPayload{
		Height:       b.Height,
		PreviousHash: b.PreviousHash,
		FactHashes:   b.FactHashes,
		Proposer:     b.Proposer,
		Timestamp:    b.Timestamp,
		Nonce:        b.Nonce,
	}
	return json.Marshal(payload)
}

// ComputeHash fills in b.Hash from the block's current fields.
func (b *Block) ComputeHash() error {
	raw, err := b.CanonicalBytes()
	if err != nil {
		return errors.Wrap(err, "marshaling block for hashing")
	}
	b.Hash = axcrypto.SHA256Hex(raw)
	return nil
}

// Sign computes the block's hash and signs it with identity, filling
// in both Hash and Signature.
func (b *Block) Sign(identity *axcrypto.Identity) error {
	if err := b.ComputeHash(); err != nil {
		return err
	}
	sig, err := identity.Sign([]byte(b.Hash))
	if err != nil {
		return errors.Wrap(err, "signing block")
	}
	b.Signature = sig
	return nil
}

// VerifySignature checks b.Signature against b.Hash using the
// proposer's public key bytes.
func (b *Block) VerifySignature(proposerPubKeyDER []byte) (bool, error) {
	return axcrypto.Verify(proposerPubKeyDER, []byte(b.Hash), b.Signature)
}

// IsGenesis reports whether b is the well-known genesis block.
func (b *Block) IsGenesis() bool {
	return b.Height == 0 && b.Proposer == GenesisProposer
}

// GenesisProposer is the well-known proposer fingerprint recorded on
// the genesis block, which carries no real signature.
const GenesisProposer = "genesis"

// NewGenesisBlock constructs the height-0 block accepted only if no
// local chain exists yet.
func NewGenesisBlock() *Block {
	b := &Block{
		Height:       0,
		PreviousHash: axcrypto.ZeroHash,
		FactHashes:   []string{},
		Proposer:     GenesisProposer,
		Timestamp:    0,
		Signature:    make([]byte, 0),
	}
	_ = b.ComputeHash()
	return b
}
