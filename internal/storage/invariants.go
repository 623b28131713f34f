package storage

import (
	"github.com/axiom-network/axiom/internal/axerr"
)

// CheckInvariants walks the whole local chain and reports the first
// violation of the storage-layer invariants a corrupted data
// directory could produce: a height gap, a broken previous_hash link,
// or a fact_hash that does not resolve locally. It is run once at
// startup; any violation is fatal (exit code 2 per the CLI contract),
// because continuing to operate on a broken chain could produce and
// gossip further bad blocks.
func CheckInvariants(s Store) error {
	height, err := s.ChainHeight()
	if err != nil {
		return err
	}
	if height < 0 {
		return nil
	}

	var prevHash string
	for h := int64(0); h <= height; h++ {
		b, err := s.GetBlockByHeight(h)
		if err != nil {
			return axerr.Fatalf(axerr.Storage, "height %d: %v", h, err)
		}
		if b.Height != h {
			return axerr.Fatalf(axerr.Storage, "block at height %d self-reports height %d", h, b.Height)
		}
		if h > 0 && b.PreviousHash != prevHash {
			return axerr.Fatalf(axerr.Storage, "height %d: previous_hash %q does not match tip %q", h, b.PreviousHash, prevHash)
		}
		for _, fh := range b.FactHashes {
			if _, err := s.GetFactByHash(fh); err != nil {
				return axerr.Fatalf(axerr.Storage, "height %d: fact %q missing locally", h, fh)
			}
		}
		prevHash = b.Hash
	}
	return nil
}
