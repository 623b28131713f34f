package p2p

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/model"
	"github.com/axiom-network/axiom/internal/storage"
)

// PeerTable tracks both durable peer records (delegated to storage)
// and the live connections and per-peer rate limiters that exist only
// for the life of the process.
type PeerTable struct {
	mu      sync.Mutex
	store   storage.Store
	live    map[string]*Conn
	limiter map[string]*rate.Limiter
}

// NewPeerTable constructs a PeerTable backed by store.
func NewPeerTable(store storage.Store) *PeerTable {
	return &PeerTable{
		store:   store,
		live:    make(map[string]*Conn),
		limiter: make(map[string]*rate.Limiter),
	}
}

// Admit enforces the MAX_PEERS cap before a new connection is allowed
// to register: under the cap it always admits; at the cap
// it evicts the live connection with the lowest durable reputation and
// admits the newcomer only if that connection's reputation is lower
// than the newcomer's own (unknown peers default to reputation 0, so
// two unknown peers racing for the last slot both lose the race and
// the incumbent keeps its seat).
func (t *PeerTable) Admit(fingerprint string) bool {
	t.mu.Lock()
	if _, already := t.live[fingerprint]; already {
		t.mu.Unlock()
		return true
	}
	if len(t.live) < config.MaxPeers {
		t.mu.Unlock()
		return true
	}
	live := make([]string, 0, len(t.live))
	for fp := range t.live {
		live = append(live, fp)
	}
	t.mu.Unlock()

	candidateRep := t.reputationOf(fingerprint)

	var weakestFP string
	weakestRep := 0
	first := true
	for _, fp := range live {
		rep := t.reputationOf(fp)
		if first || rep < weakestRep {
			weakestFP, weakestRep = fp, rep
			first = false
		}
	}
	if weakestFP == "" || weakestRep >= candidateRep {
		return false
	}

	if conn, ok := t.Get(weakestFP); ok && conn != nil {
		_ = conn.Close()
	}
	t.Unregister(weakestFP)
	return true
}

func (t *PeerTable) reputationOf(fingerprint string) int {
	p, err := t.store.GetPeer(fingerprint)
	if err != nil {
		return 0
	}
	return p.Reputation
}

// Register records fingerprint as carrying an active connection and
// upserts its durable PeerRecord.
func (t *PeerTable) Register(fingerprint, addr string, pubKey []byte, conn *Conn) error {
	t.mu.Lock()
	t.live[fingerprint] = conn
	if _, ok := t.limiter[fingerprint]; !ok {
		// 20 messages/second sustained, bursts of 40 — generous enough
		// for gossip and block propagation without admitting a flood.
		t.limiter[fingerprint] = rate.NewLimiter(rate.Limit(20), 40)
	}
	t.mu.Unlock()

	now := time.Now()
	p, err := t.store.GetPeer(fingerprint)
	if storage.Is(err, storage.KeyNotFound) {
		p = &model.PeerRecord{Fingerprint: fingerprint, FirstSeen: now}
	} else if err != nil {
		return err
	}
	p.NetAddress = addr
	p.PublicKey = pubKey
	p.LastSeen = now
	return t.store.UpsertPeer(p)
}

// Unregister drops the live connection for fingerprint, if any.
func (t *PeerTable) Unregister(fingerprint string) {
	t.mu.Lock()
	delete(t.live, fingerprint)
	t.mu.Unlock()
}

// Allow reports whether fingerprint is currently within its inbound
// rate budget, consuming one token if so.
func (t *PeerTable) Allow(fingerprint string) bool {
	t.mu.Lock()
	l, ok := t.limiter[fingerprint]
	if !ok {
		l = rate.NewLimiter(rate.Limit(20), 40)
		t.limiter[fingerprint] = l
	}
	t.mu.Unlock()
	return l.Allow()
}

// Get returns the live connection for fingerprint, if connected.
func (t *PeerTable) Get(fingerprint string) (*Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.live[fingerprint]
	return c, ok
}

// LiveFingerprints returns the fingerprints of every currently
// connected peer.
func (t *PeerTable) LiveFingerprints() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.live))
	for fp := range t.live {
		out = append(out, fp)
	}
	return out
}

// Count returns the number of live connections.
func (t *PeerTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// AdjustReputation applies delta to fingerprint's durable reputation
// score and persists the result, disconnecting and blacklisting it if
// the score drops below zero.
func (t *PeerTable) AdjustReputation(fingerprint string, delta int) error {
	p, err := t.store.GetPeer(fingerprint)
	if err != nil {
		return err
	}
	p.Adjust(delta, time.Now(), config.BlacklistTTL)
	if err := t.store.UpsertPeer(p); err != nil {
		return err
	}
	if p.Blacklisted {
		if conn, ok := t.Get(fingerprint); ok && conn != nil {
			_ = conn.Close()
		}
		t.Unregister(fingerprint)
	}
	return nil
}

// IsBlacklisted reports whether fingerprint is currently blacklisted.
func (t *PeerTable) IsBlacklisted(fingerprint string) bool {
	p, err := t.store.GetPeer(fingerprint)
	if err != nil {
		return false
	}
	return p.IsBlacklisted(time.Now())
}

// TopByReputation returns up to limit known peers ordered by
// descending reputation, used to answer PEER_REQUEST with a PEER_LIST
// and to serve /get_peers. A limit of 0 or less returns every peer.
func (t *PeerTable) TopByReputation(limit int) ([]*model.PeerRecord, error) {
	peers, err := t.store.ListPeers()
	if err != nil {
		return nil, err
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Reputation > peers[j].Reputation })
	if limit > 0 && len(peers) > limit {
		peers = peers[:limit]
	}
	return peers, nil
}
