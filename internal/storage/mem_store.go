package storage

import (
	"sort"
	"strconv"
	"sync"

	"github.com/axiom-network/axiom/internal/model"
)

// MemStore is an in-memory Store implementation for tests that want to
// exercise the ledger, consensus, or gossip layers without touching
// disk. It applies the same chain-linkage and single-seal checks
// AppendBlock and MarkFactsSealed enforce against badger, so a test
// written against MemStore catches the same storage-layer bugs a
// BadgerStore-backed test would.
type MemStore struct {
	mu sync.Mutex

	blocksByHeight map[int64]*model.Block
	blocksByHash   map[string]*model.Block
	chainHeight    int64

	facts      map[string]*model.Fact
	factsByID  map[int64]string
	nextFactID int64

	peers      map[string]*model.PeerRecord
	validators map[string]*model.ValidatorRecord

	lastSignedHeight int64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		blocksByHeight:   make(map[int64]*model.Block),
		blocksByHash:     make(map[string]*model.Block),
		chainHeight:      -1,
		facts:            make(map[string]*model.Fact),
		factsByID:        make(map[int64]string),
		peers:            make(map[string]*model.PeerRecord),
		validators:       make(map[string]*model.ValidatorRecord),
		lastSignedHeight: -1,
	}
}

func cloneBlock(b *model.Block) *model.Block {
	cp := *b
	cp.FactHashes = append([]string(nil), b.FactHashes...)
	return &cp
}

func cloneFact(f *model.Fact) *model.Fact {
	cp := *f
	cp.Links = append([]model.Link(nil), f.Links...)
	cp.Sources = append([]model.SourceRecord(nil), f.Sources...)
	return &cp
}

func (s *MemStore) ChainHeight() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainHeight, nil
}

// AppendBlock commits b as the new chain tip and seals every fact it
// references under the same lock acquisition, mirroring BadgerStore's
// single-transaction guarantee that a block never commits without its
// facts sealing alongside it. Re-appending a block already committed
// at its height is a no-op success, not a HeightGap error.
func (s *MemStore) AppendBlock(b *model.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Height <= s.chainHeight {
		existing, ok := s.blocksByHeight[b.Height]
		if ok && existing.Hash == b.Hash {
			return nil
		}
		return NewErr(HashMismatch, b.Hash)
	}
	if b.Height != s.chainHeight+1 {
		return NewErr(HeightGap, strconv.FormatInt(b.Height, 10))
	}
	if s.chainHeight >= 0 {
		prev := s.blocksByHeight[s.chainHeight]
		if prev.Hash != b.PreviousHash {
			return NewErr(HashMismatch, b.Hash)
		}
	}
	if err := s.sealFactsLocked(b.FactHashes, b.Height); err != nil {
		return err
	}

	cp := cloneBlock(b)
	s.blocksByHeight[b.Height] = cp
	s.blocksByHash[b.Hash] = cp
	s.chainHeight = b.Height
	return nil
}

func (s *MemStore) GetBlockByHeight(height int64) (*model.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocksByHeight[height]
	if !ok {
		return nil, NewErr(KeyNotFound, strconv.FormatInt(height, 10))
	}
	return cloneBlock(b), nil
}

func (s *MemStore) GetBlockByHash(hash string) (*model.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocksByHash[hash]
	if !ok {
		return nil, NewErr(KeyNotFound, hash)
	}
	return cloneBlock(b), nil
}

func (s *MemStore) GetFactByHash(hash string) (*model.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[hash]
	if !ok {
		return nil, NewErr(KeyNotFound, hash)
	}
	return cloneFact(f), nil
}

func (s *MemStore) GetFactByID(id int64) (*model.Fact, error) {
	s.mu.Lock()
	hash, ok := s.factsByID[id]
	s.mu.Unlock()
	if !ok {
		return nil, NewErr(KeyNotFound, strconv.FormatInt(id, 10))
	}
	return s.GetFactByHash(hash)
}

func (s *MemStore) PutFact(f *model.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneFact(f)
	s.facts[f.Hash] = cp
	s.factsByID[f.ID] = f.Hash
	return nil
}

func (s *MemStore) NextFactID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextFactID
	s.nextFactID++
	return id, nil
}

func (s *MemStore) ListUnsealedTrustedFacts(limit int) ([]*model.Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var facts []*model.Fact
	for _, f := range s.facts {
		if !f.Sealed && f.Trusted() {
			facts = append(facts, cloneFact(f))
		}
	}
	model.SortFactsByID(facts)
	if limit > 0 && len(facts) > limit {
		facts = facts[:limit]
	}
	return facts, nil
}

func (s *MemStore) ListFactHashes() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hashes := make([]string, 0, len(s.facts))
	for h := range s.facts {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (s *MemStore) MarkFactsSealed(hashes []string, height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealFactsLocked(hashes, height)
}

// sealFactsLocked flips Sealed/SealedIn for every fact in hashes. The
// caller must already hold s.mu.
func (s *MemStore) sealFactsLocked(hashes []string, height int64) error {
	for _, h := range hashes {
		f, ok := s.facts[h]
		if !ok {
			return NewErr(KeyNotFound, h)
		}
		if f.Sealed {
			return NewErr(AlreadySealed, h)
		}
	}
	for _, h := range hashes {
		f := s.facts[h]
		f.Sealed = true
		f.SealedIn = height
	}
	return nil
}

func (s *MemStore) UpsertPeer(p *model.PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.peers[p.Fingerprint] = &cp
	return nil
}

func (s *MemStore) GetPeer(fingerprint string) (*model.PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[fingerprint]
	if !ok {
		return nil, NewErr(KeyNotFound, fingerprint)
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) ListPeers() ([]*model.PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]*model.PeerRecord, 0, len(s.peers))
	for _, p := range s.peers {
		cp := *p
		peers = append(peers, &cp)
	}
	return peers, nil
}

func (s *MemStore) UpsertValidator(v *model.ValidatorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.validators[v.Fingerprint] = &cp
	return nil
}

func (s *MemStore) GetValidator(fingerprint string) (*model.ValidatorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validators[fingerprint]
	if !ok {
		return nil, NewErr(KeyNotFound, fingerprint)
	}
	cp := *v
	return &cp, nil
}

func (s *MemStore) ListValidators() ([]*model.ValidatorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	validators := make([]*model.ValidatorRecord, 0, len(s.validators))
	for _, v := range s.validators {
		cp := *v
		validators = append(validators, &cp)
	}
	return validators, nil
}

func (s *MemStore) LastSignedHeight() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSignedHeight, nil
}

func (s *MemStore) SetLastSignedHeight(height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSignedHeight = height
	return nil
}

func (s *MemStore) Close() error {
	return nil
}
