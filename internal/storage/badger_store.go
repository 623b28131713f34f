package storage

import (
	"encoding/binary"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/axiom-network/axiom/internal/model"
)

// Key prefixes. Every key in the database starts with one of these so
// a single badger.DB can hold the whole node's state.
const (
	prefixBlockByHeight = "b:h:"
	prefixBlockHashIdx  = "b:x:"
	prefixFact          = "f:h:"
	prefixFactIDIdx     = "f:i:"
	prefixPeer          = "p:"
	prefixValidator     = "v:"

	keyChainHeight     = "meta:chain_height"
	keyNextFactID      = "meta:next_fact_id"
	keyLastSignedHeight = "meta:last_signed_height"
)

// BadgerStore is the durable Store implementation. Reads go straight
// to badger's own block cache rather than through an extra in-memory
// layer; writes are serialized through a single mutex.
type BadgerStore struct {
	mu   sync.Mutex
	db   *badger.DB
	path string
}

// NewBadgerStore opens (creating if necessary) a badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening badger store")
	}
	return &BadgerStore{db: db, path: path}, nil
}

// DiskUsage reports the on-disk size of the LSM tree and value log as
// a human-readable string, for operators rather than raw byte counts.
func (s *BadgerStore) DiskUsage() string {
	lsm, vlog := s.db.Size()
	return humanize.Bytes(uint64(lsm + vlog))
}

func heightKey(height int64) []byte {
	buf := make([]byte, len(prefixBlockByHeight)+8)
	copy(buf, prefixBlockByHeight)
	binary.BigEndian.PutUint64(buf[len(prefixBlockByHeight):], uint64(height))
	return buf
}

func hashIdxKey(hash string) []byte {
	return []byte(prefixBlockHashIdx + hash)
}

func factKey(hash string) []byte {
	return []byte(prefixFact + hash)
}

func factIDKey(id int64) []byte {
	buf := make([]byte, len(prefixFactIDIdx)+8)
	copy(buf, prefixFactIDIdx)
	binary.BigEndian.PutUint64(buf[len(prefixFactIDIdx):], uint64(id))
	return buf
}

func peerKey(fingerprint string) []byte {
	return []byte(prefixPeer + fingerprint)
}

func validatorKey(fingerprint string) []byte {
	return []byte(prefixValidator + fingerprint)
}

func (s *BadgerStore) getBytes(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.Value()
		return err
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, NewErr(KeyNotFound, string(key))
		}
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) setBytes(key, val []byte) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(key, val); err != nil {
		return err
	}
	return txn.Commit(nil)
}

// ChainHeight returns the height of the highest committed block, or -1
// if the chain is empty.
func (s *BadgerStore) ChainHeight() (int64, error) {
	raw, err := s.getBytes([]byte(keyChainHeight))
	if Is(err, KeyNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// AppendBlock commits b as the new chain tip and seals every fact it
// references, in a single badger transaction. The caller (internal/
// ledger) is responsible for having already validated chain linkage;
// AppendBlock re-checks it at the storage boundary so a caller bug can
// never corrupt the chain on disk. Sealing rides the same transaction
// as the block write so a crash between the two can never leave a
// committed block's facts unsealed (invariant #3: a fact seals into
// at most one block). Re-appending a block already committed at its
// height is a no-op success, not a HeightGap error.
func (s *BadgerStore) AppendBlock(b *model.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	height, err := s.ChainHeight()
	if err != nil {
		return err
	}

	if b.Height <= height {
		existing, err := s.getBlockByHeightLocked(b.Height)
		if err == nil && existing.Hash == b.Hash {
			return nil
		}
		return NewErr(HashMismatch, b.Hash)
	}
	if b.Height != height+1 {
		return NewErr(HeightGap, strconv.FormatInt(b.Height, 10))
	}
	if height >= 0 {
		prev, err := s.getBlockByHeightLocked(height)
		if err != nil {
			return err
		}
		if prev.Hash != b.PreviousHash {
			return NewErr(HashMismatch, b.Hash)
		}
	}

	val, err := json.Marshal(b)
	if err != nil {
		return errors.Wrap(err, "marshaling block")
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(heightKey(b.Height), val); err != nil {
		return err
	}
	if err := txn.Set(hashIdxKey(b.Hash), heightKey(b.Height)); err != nil {
		return err
	}
	hbuf := make([]byte, 8)
	binary.BigEndian.PutUint64(hbuf, uint64(b.Height))
	if err := txn.Set([]byte(keyChainHeight), hbuf); err != nil {
		return err
	}
	if err := sealFactsInTxn(txn, b.FactHashes, b.Height); err != nil {
		return err
	}
	return txn.Commit(nil)
}

func (s *BadgerStore) getBlockByHeightLocked(height int64) (*model.Block, error) {
	raw, err := s.getBytes(heightKey(height))
	if err != nil {
		return nil, err
	}
	var b model.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, errors.Wrap(err, "unmarshaling block")
	}
	return &b, nil
}

// GetBlockByHeight returns the block at height.
func (s *BadgerStore) GetBlockByHeight(height int64) (*model.Block, error) {
	return s.getBlockByHeightLocked(height)
}

// GetBlockByHash returns the block with the given hash.
func (s *BadgerStore) GetBlockByHash(hash string) (*model.Block, error) {
	idx, err := s.getBytes(hashIdxKey(hash))
	if err != nil {
		return nil, err
	}
	raw, err := s.getBytes(idx)
	if err != nil {
		return nil, err
	}
	var b model.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, errors.Wrap(err, "unmarshaling block")
	}
	return &b, nil
}

// GetFactByHash returns the fact with the given hash.
func (s *BadgerStore) GetFactByHash(hash string) (*model.Fact, error) {
	raw, err := s.getBytes(factKey(hash))
	if err != nil {
		return nil, err
	}
	var f model.Fact
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "unmarshaling fact")
	}
	return &f, nil
}

// GetFactByID returns the fact with the given ID.
func (s *BadgerStore) GetFactByID(id int64) (*model.Fact, error) {
	hash, err := s.getBytes(factIDKey(id))
	if err != nil {
		return nil, err
	}
	return s.GetFactByHash(string(hash))
}

// PutFact inserts or overwrites f, keyed by its hash, and maintains
// the id->hash index.
func (s *BadgerStore) PutFact(f *model.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshaling fact")
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(factKey(f.Hash), val); err != nil {
		return err
	}
	if err := txn.Set(factIDKey(f.ID), []byte(f.Hash)); err != nil {
		return err
	}
	return txn.Commit(nil)
}

// NextFactID atomically allocates and persists the next dense fact ID.
func (s *BadgerStore) NextFactID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.getBytes([]byte(keyNextFactID))
	var next int64
	if Is(err, KeyNotFound) {
		next = 0
	} else if err != nil {
		return 0, err
	} else {
		next = int64(binary.BigEndian.Uint64(raw))
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(next+1))
	if err := s.setBytes([]byte(keyNextFactID), buf); err != nil {
		return 0, err
	}
	return next, nil
}

// ListUnsealedTrustedFacts returns up to limit facts that are trusted
// (corroborated, not disputed) and not yet sealed into a block, in the
// deterministic ID-ascending order block construction requires.
func (s *BadgerStore) ListUnsealedTrustedFacts(limit int) ([]*model.Fact, error) {
	var facts []*model.Fact
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixFact)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().Value()
			if err != nil {
				return err
			}
			var f model.Fact
			if err := json.Unmarshal(raw, &f); err != nil {
				return err
			}
			if !f.Sealed && f.Trusted() {
				facts = append(facts, &f)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	model.SortFactsByID(facts)
	if limit > 0 && len(facts) > limit {
		facts = facts[:limit]
	}
	return facts, nil
}

// ListFactHashes returns every fact hash known locally, used by the
// HTTP API's /get_fact_ids endpoint.
func (s *BadgerStore) ListFactHashes() ([]string, error) {
	var hashes []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixFact)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			hashes = append(hashes, string(key[len(prefix):]))
		}
		return nil
	})
	return hashes, err
}

// MarkFactsSealed flips Sealed/SealedIn for every fact in hashes,
// atomically, once a block containing them commits. AppendBlock calls
// the shared sealFactsInTxn helper directly inside its own transaction
// rather than this method, so a block's facts seal in the same write
// as the block row; this method remains for callers (and tests) that
// need to seal facts outside of an AppendBlock call.
func (s *BadgerStore) MarkFactsSealed(hashes []string, height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := sealFactsInTxn(txn, hashes, height); err != nil {
		return err
	}
	return txn.Commit(nil)
}

// sealFactsInTxn flips Sealed/SealedIn for every fact in hashes within
// an already-open transaction, without committing it.
func sealFactsInTxn(txn *badger.Txn, hashes []string, height int64) error {
	for _, h := range hashes {
		item, err := txn.Get(factKey(h))
		if err != nil {
			return err
		}
		raw, err := item.Value()
		if err != nil {
			return err
		}
		var f model.Fact
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		if f.Sealed {
			return NewErr(AlreadySealed, h)
		}
		f.Sealed = true
		f.SealedIn = height
		val, err := json.Marshal(&f)
		if err != nil {
			return err
		}
		if err := txn.Set(factKey(h), val); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPeer inserts or replaces a peer record.
func (s *BadgerStore) UpsertPeer(p *model.PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.setBytes(peerKey(p.Fingerprint), val)
}

// GetPeer returns the peer record for fingerprint.
func (s *BadgerStore) GetPeer(fingerprint string) (*model.PeerRecord, error) {
	raw, err := s.getBytes(peerKey(fingerprint))
	if err != nil {
		return nil, err
	}
	var p model.PeerRecord
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPeers returns every known peer record.
func (s *BadgerStore) ListPeers() ([]*model.PeerRecord, error) {
	var peers []*model.PeerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixPeer)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().Value()
			if err != nil {
				return err
			}
			var p model.PeerRecord
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			peers = append(peers, &p)
		}
		return nil
	})
	return peers, err
}

// UpsertValidator inserts or replaces a validator record.
func (s *BadgerStore) UpsertValidator(v *model.ValidatorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.setBytes(validatorKey(v.Fingerprint), val)
}

// GetValidator returns the validator record for fingerprint.
func (s *BadgerStore) GetValidator(fingerprint string) (*model.ValidatorRecord, error) {
	raw, err := s.getBytes(validatorKey(fingerprint))
	if err != nil {
		return nil, err
	}
	var v model.ValidatorRecord
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListValidators returns every known validator record.
func (s *BadgerStore) ListValidators() ([]*model.ValidatorRecord, error) {
	var validators []*model.ValidatorRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixValidator)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().Value()
			if err != nil {
				return err
			}
			var v model.ValidatorRecord
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			validators = append(validators, &v)
		}
		return nil
	})
	return validators, err
}

// LastSignedHeight returns the highest height this node has signed as
// proposer, or -1 if it has never proposed.
func (s *BadgerStore) LastSignedHeight() (int64, error) {
	raw, err := s.getBytes([]byte(keyLastSignedHeight))
	if Is(err, KeyNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// SetLastSignedHeight persists height as the new last-signed-height
// guard. Callers must do this before releasing a signature, never after.
func (s *BadgerStore) SetLastSignedHeight(height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(height))
	return s.setBytes([]byte(keyLastSignedHeight), buf)
}

// Close releases the underlying badger database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
