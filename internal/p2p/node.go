package p2p

import (
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/axerr"
	"github.com/axiom-network/axiom/internal/common"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/ledger"
	"github.com/axiom-network/axiom/internal/model"
	"github.com/axiom-network/axiom/internal/storage"
)

// Node is the gossip transport's runtime handle: one acceptor task,
// one connection task per live peer, and a gossip-interval ticker,
// exactly the task breakdown named in the concurrency model. It holds
// no consensus-timing state of its own; internal/consensus drives
// proposals and calls Broadcast.
type Node struct {
	cfg         *config.Config
	identity    *axcrypto.Identity
	fingerprint string
	store       storage.Store
	ledger      *ledger.Ledger
	transport   *Transport
	peers       *PeerTable
	dedup       *common.TTLCache
	logger      *logrus.Entry

	lookupValidator ledger.ValidatorLookup
	leaderFor       ledger.LeaderFunc

	pendingMu sync.Mutex
	pending   map[string]chan *Envelope
}

// New constructs a Node. lookupValidator and leaderFor are supplied by
// the runtime wiring layer so that p2p never imports internal/consensus.
func New(cfg *config.Config, identity *axcrypto.Identity, store storage.Store, lg *ledger.Ledger, transport *Transport, logger *logrus.Entry, lookupValidator ledger.ValidatorLookup, leaderFor ledger.LeaderFunc) (*Node, error) {
	fp, err := identity.Fingerprint()
	if err != nil {
		return nil, err
	}
	return &Node{
		cfg:             cfg,
		identity:        identity,
		fingerprint:     fp,
		store:           store,
		ledger:          lg,
		transport:       transport,
		peers:           NewPeerTable(store),
		dedup:           common.NewTTLCache(config.DedupCacheSize, config.DedupCacheTTL),
		logger:          logger.WithField("component", "p2p"),
		lookupValidator: lookupValidator,
		leaderFor:       leaderFor,
		pending:         make(map[string]chan *Envelope),
	}, nil
}

// PeerCount returns the number of live peer connections.
func (n *Node) PeerCount() int {
	return n.peers.Count()
}

// Peers returns every known peer record ordered by descending
// reputation, for the HTTP API's /get_peers endpoint.
func (n *Node) Peers() ([]*model.PeerRecord, error) {
	return n.peers.TopByReputation(0)
}

// Run accepts inbound connections, dials any configured bootstrap
// peers, and runs the periodic peer-gossip loop until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	go n.acceptLoop(ctx)

	for _, addr := range n.cfg.BootstrapPeers {
		go n.dialAndHandshake(ctx, addr)
	}

	ticker := time.NewTicker(config.PeerGossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.gossipPeers(ctx)
		}
	}
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		conn, err := n.transport.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.WithError(err).Warn("accept failed")
			continue
		}
		go n.handleInbound(ctx, conn)
	}
}

func (n *Node) dialAndHandshake(ctx context.Context, addr string) {
	netConn, err := n.transport.Dial(addr, config.DefaultRequestTimeout)
	if err != nil {
		n.logger.WithError(err).WithField("addr", addr).Warn("dial failed")
		return
	}
	n.handleOutbound(ctx, netConn, addr)
}

func (n *Node) handleInbound(ctx context.Context, netConn net.Conn) {
	c := NewConn(netConn, n.logger)
	fp, err := n.handshake(c, true)
	if err != nil {
		n.logger.WithError(err).Warn("inbound handshake failed")
		c.Close()
		return
	}
	n.serve(ctx, c, fp)
}

func (n *Node) handleOutbound(ctx context.Context, netConn net.Conn, addr string) {
	c := NewConn(netConn, n.logger)
	c.Addr = addr
	fp, err := n.handshake(c, false)
	if err != nil {
		n.logger.WithError(err).Warn("outbound handshake failed")
		c.Close()
		return
	}
	n.serve(ctx, c, fp)
}

// handshake performs the HELLO/HELLO_ACK exchange.
// isServer controls which side speaks first: the dialing side sends
// HELLO immediately, the accepting side waits for it.
func (n *Node) handshake(c *Conn, isServer bool) (string, error) {
	height, err := n.ledger.ChainHeight()
	if err != nil {
		return "", err
	}
	pubDER, err := n.identity.PublicKeyBytes()
	if err != nil {
		return "", err
	}
	hello := HelloBody{PubKey: pubDER, ListenAddr: n.cfg.P2PAddr(), ChainHeight: height}

	send := func(typ MessageType) error {
		env, err := NewEnvelope(typ, n.fingerprint, hello)
		if err != nil {
			return err
		}
		return WriteEnvelope(c.netConn, env)
	}
	recv := func() (*HelloBody, string, error) {
		env, err := ReadEnvelope(c.netConn)
		if err != nil {
			return nil, "", err
		}
		var body HelloBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return nil, "", axerr.New(axerr.Protocol, err)
		}
		return &body, env.From, nil
	}

	if isServer {
		body, from, err := recv()
		if err != nil {
			return "", err
		}
		if err := n.recordPeerKey(from, body.PubKey, body.ListenAddr); err != nil {
			return "", err
		}
		if err := send(TypeHelloAck); err != nil {
			return "", err
		}
		c.Fingerprint = from
		return from, nil
	}

	if err := send(TypeHello); err != nil {
		return "", err
	}
	body, from, err := recv()
	if err != nil {
		return "", err
	}
	if err := n.recordPeerKey(from, body.PubKey, body.ListenAddr); err != nil {
		return "", err
	}
	c.Fingerprint = from
	return from, nil
}

// recordPeerKey verifies that pubDER actually hashes to the claimed
// fingerprint and, if so, persists it into both the peer table (so
// /get_peers and reputation tracking have a real key to show) and the
// validator registry (so checkStructural's signature verification and
// LeaderFor's stake lookup can resolve this fingerprint even before any
// VALIDATOR_ANNOUNCE has been exchanged). A mismatched key is a
// CryptoError: the sender is lying about who it is.
func (n *Node) recordPeerKey(fingerprint string, pubDER []byte, listenAddr string) error {
	if axcrypto.SHA256Hex(pubDER) != fingerprint {
		return axerr.Newf(axerr.Crypto, "peer %s presented a public key that does not match its fingerprint", fingerprint)
	}

	now := time.Now()
	peer, err := n.store.GetPeer(fingerprint)
	if err != nil {
		peer = &model.PeerRecord{Fingerprint: fingerprint, FirstSeen: now}
	}
	peer.PublicKey = pubDER
	peer.NetAddress = listenAddr
	peer.LastSeen = now
	if err := n.store.UpsertPeer(peer); err != nil {
		return axerr.New(axerr.Storage, err)
	}

	validator, err := n.store.GetValidator(fingerprint)
	if err != nil {
		validator = &model.ValidatorRecord{Fingerprint: fingerprint}
	}
	validator.PublicKey = pubDER
	if err := n.store.UpsertValidator(validator); err != nil {
		return axerr.New(axerr.Storage, err)
	}
	return nil
}

func (n *Node) serve(ctx context.Context, c *Conn, fingerprint string) {
	if n.peers.IsBlacklisted(fingerprint) {
		c.Close()
		return
	}
	if !n.peers.Admit(fingerprint) {
		n.logger.WithField("peer", fingerprint).Debug("rejecting connection: MAX_PEERS reached and no weaker peer to evict")
		c.Close()
		return
	}

	var pub []byte
	if v, err := n.store.GetValidator(fingerprint); err == nil {
		pub = v.PublicKey
	}
	if err := n.peers.Register(fingerprint, c.Addr, pub, c); err != nil {
		n.logger.WithError(err).Warn("registering peer failed")
	}
	defer n.peers.Unregister(fingerprint)

	n.announceSelfValidatorTo(c)

	go func() {
		if err := c.WriteLoop(); err != nil {
			n.logger.WithField("peer", fingerprint).WithError(err).Debug("write loop ended")
		}
	}()

	err := c.ReadLoop(func(e *Envelope) error {
		if !n.peers.Allow(fingerprint) {
			return axerr.Newf(axerr.Protocol, "peer %s exceeded rate limit", fingerprint)
		}
		return n.dispatch(ctx, c, e)
	})
	if err != nil {
		n.logger.WithField("peer", fingerprint).WithError(err).Debug("connection closed")
		delta := model.ReputationDeltaMalformed
		if errors.Cause(err) == ErrFrameTooLarge {
			delta = model.ReputationDeltaBadBlock
		}
		_ = n.peers.AdjustReputation(fingerprint, delta)
	}
	c.Close()
}

// dispatch routes one parsed envelope by type. Reply envelopes for a
// pending correlated request are delivered to the waiting caller
// instead of being handled here.
func (n *Node) dispatch(ctx context.Context, c *Conn, e *Envelope) error {
	if n.deliverPending(e) {
		return nil
	}

	switch e.Type {
	case TypePeerRequest:
		return n.handlePeerRequest(c, e)
	case TypePeerList:
		return nil
	case TypeBlockAnnounce:
		return n.handleBlockAnnounce(ctx, c, e)
	case TypeRequestBlocks:
		return n.handleRequestBlocks(c, e)
	case TypeRequestFacts:
		return n.handleRequestFacts(c, e)
	case TypePing:
		return n.handlePing(c, e)
	case TypeValidatorAnnounce:
		return n.handleValidatorAnnounce(c, e)
	default:
		return nil
	}
}

func (n *Node) deliverPending(e *Envelope) bool {
	n.pendingMu.Lock()
	ch, ok := n.pending[e.ID]
	n.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- e:
	default:
	}
	return true
}

// request sends env on c and waits up to timeout for a correlated reply.
func (n *Node) request(c *Conn, env *Envelope, timeout time.Duration) (*Envelope, error) {
	ch := make(chan *Envelope, 1)
	n.pendingMu.Lock()
	n.pending[env.ID] = ch
	n.pendingMu.Unlock()
	defer func() {
		n.pendingMu.Lock()
		delete(n.pending, env.ID)
		n.pendingMu.Unlock()
	}()

	if ok := c.Send(env); !ok {
		return nil, axerr.Newf(axerr.Protocol, "outbound queue full for peer %s", c.Fingerprint)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-time.After(timeout):
		_ = n.peers.AdjustReputation(c.Fingerprint, model.ReputationDeltaTimeout)
		return nil, axerr.New(axerr.Timeout, context.DeadlineExceeded)
	}
}

// Broadcast sends env to every live peer except excludeFingerprint,
// per the flood-gossip discipline of the protocol.
func (n *Node) Broadcast(env *Envelope, excludeFingerprint string) {
	for _, fp := range n.peers.LiveFingerprints() {
		if fp == excludeFingerprint {
			continue
		}
		if c, ok := n.peers.Get(fp); ok {
			c.Send(env)
		}
	}
}

// AnnounceBlock broadcasts a newly committed or proposed block.
func (n *Node) AnnounceBlock(b *model.Block) error {
	env, err := NewEnvelope(TypeBlockAnnounce, n.fingerprint, b)
	if err != nil {
		return err
	}
	n.Broadcast(env, "")
	return nil
}

// AnnounceValidator flood-gossips v to every connected peer, the
// mechanism by which a node's self-declared stake (set via
// /validator/stake) reaches the rest of the network so every honest
// node's LeaderFor computation converges on the same active validator
// set.
func (n *Node) AnnounceValidator(v *model.ValidatorRecord) error {
	env, err := NewEnvelope(TypeValidatorAnnounce, n.fingerprint, v)
	if err != nil {
		return err
	}
	n.Broadcast(env, "")
	return nil
}

// announceSelfValidatorTo hands this node's own current validator
// record to a newly connected peer, so a staked node introduces itself
// without waiting for the next change to its stake to trigger a flood.
func (n *Node) announceSelfValidatorTo(c *Conn) {
	v, err := n.store.GetValidator(n.fingerprint)
	if err != nil || v.Stake <= 0 {
		return
	}
	env, err := NewEnvelope(TypeValidatorAnnounce, n.fingerprint, v)
	if err != nil {
		return
	}
	c.Send(env)
}

func (n *Node) gossipPeers(ctx context.Context) {
	fps := n.peers.LiveFingerprints()
	if len(fps) == 0 {
		return
	}
	fp := fps[rand.Intn(len(fps))]
	c, ok := n.peers.Get(fp)
	if !ok {
		return
	}
	env, err := NewEnvelope(TypePeerRequest, n.fingerprint, PeerRequestBody{})
	if err != nil {
		return
	}
	reply, err := n.request(c, env, config.DefaultRequestTimeout)
	if err != nil {
		return
	}
	var body PeerListBody
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		return
	}
	for _, entry := range body.Peers {
		if entry.PubKey == n.fingerprint {
			continue
		}
		existing, err := n.store.GetPeer(entry.PubKey)
		if storage.Is(err, storage.KeyNotFound) {
			_ = n.store.UpsertPeer(&model.PeerRecord{
				Fingerprint: entry.PubKey,
				NetAddress:  entry.Addr,
				FirstSeen:   time.Now(),
				LastSeen:    time.Now(),
			})
			continue
		}
		if err == nil {
			existing.LastSeen = time.Now()
			_ = n.store.UpsertPeer(existing)
		}
	}
}
