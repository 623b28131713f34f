package p2p

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/axiom-network/axiom/internal/axcrypto"
	"github.com/axiom-network/axiom/internal/axerr"
	"github.com/axiom-network/axiom/internal/config"
	"github.com/axiom-network/axiom/internal/ledger"
	"github.com/axiom-network/axiom/internal/model"
)

func (n *Node) handlePeerRequest(c *Conn, e *Envelope) error {
	peers, err := n.peers.TopByReputation(config.PeerListReplySize)
	if err != nil {
		return err
	}
	entries := make([]PeerListEntry, 0, len(peers))
	for _, p := range peers {
		entries = append(entries, PeerListEntry{Addr: p.NetAddress, PubKey: p.Fingerprint, LastSeen: p.LastSeen.Unix()})
	}
	reply, err := e.Reply(TypePeerList, n.fingerprint, PeerListBody{Peers: entries})
	if err != nil {
		return err
	}
	c.Send(reply)
	return nil
}

func (n *Node) handlePing(c *Conn, e *Envelope) error {
	var body PingBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return axerr.New(axerr.Protocol, err)
	}
	reply, err := e.Reply(TypePong, n.fingerprint, body)
	if err != nil {
		return err
	}
	c.Send(reply)
	return nil
}

func (n *Node) handleRequestBlocks(c *Conn, e *Envelope) error {
	var body RequestBlocksBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return axerr.New(axerr.Protocol, err)
	}

	height, err := n.ledger.ChainHeight()
	if err != nil {
		return err
	}

	blocks := make([]*model.Block, 0)
	for h := body.SinceHeight + 1; h <= height && len(blocks) < config.BlocksReplySize; h++ {
		b, err := n.store.GetBlockByHeight(h)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
	}

	reply, err := e.Reply(TypeBlocks, n.fingerprint, struct {
		Blocks []*model.Block `json:"blocks"`
	}{Blocks: blocks})
	if err != nil {
		return err
	}
	c.Send(reply)
	return nil
}

func (n *Node) handleRequestFacts(c *Conn, e *Envelope) error {
	var body RequestFactsBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return axerr.New(axerr.Protocol, err)
	}

	facts := make([]*model.Fact, 0, len(body.Hashes))
	for _, h := range body.Hashes {
		f, err := n.store.GetFactByHash(h)
		if err == nil {
			facts = append(facts, f)
		}
	}

	reply, err := e.Reply(TypeFacts, n.fingerprint, struct {
		Facts []*model.Fact `json:"facts"`
	}{Facts: facts})
	if err != nil {
		return err
	}
	c.Send(reply)
	return nil
}

// handleBlockAnnounce validates and (on success) commits an announced
// block, suppresses duplicate re-gossip via the dedup cache, and
// re-broadcasts to every other peer, per the flood-gossip discipline.
func (n *Node) handleBlockAnnounce(ctx context.Context, c *Conn, e *Envelope) error {
	var b model.Block
	if err := json.Unmarshal(e.Body, &b); err != nil {
		return axerr.New(axerr.Protocol, err)
	}

	dedupKey := "block:" + b.Hash
	if n.dedup.Seen(dedupKey) {
		return nil
	}

	outcome, err := n.ledger.ValidateAndCommit(ctx, &b, n.lookupValidator, n.leaderFor, n.fetchFactsFrom(c))
	switch outcome {
	case ledger.Accepted:
		n.Broadcast(e, c.Fingerprint)
		return n.peers.AdjustReputation(c.Fingerprint, model.ReputationDeltaBlockDelivered)
	case ledger.Duplicate:
		return nil
	case ledger.NeedsSync:
		return n.requestCatchUp(ctx, c, b.Height)
	case ledger.Stale:
		return nil
	default: // Rejected
		_ = n.peers.AdjustReputation(c.Fingerprint, model.ReputationDeltaBadBlock)
		return err
	}
}

// handleValidatorAnnounce learns a validator's self-declared public
// key and stake, verifies the key matches the claimed fingerprint, and
// re-floods the record to every other peer, the gossip path that lets
// stake changes converge across the network the same way BLOCK_ANNOUNCE
// does for blocks.
func (n *Node) handleValidatorAnnounce(c *Conn, e *Envelope) error {
	var v model.ValidatorRecord
	if err := json.Unmarshal(e.Body, &v); err != nil {
		return axerr.New(axerr.Protocol, err)
	}
	if v.Fingerprint == "" || axcrypto.SHA256Hex(v.PublicKey) != v.Fingerprint {
		_ = n.peers.AdjustReputation(c.Fingerprint, model.ReputationDeltaMalformed)
		return axerr.Newf(axerr.Crypto, "validator announce for %s carries a public key that does not match its fingerprint", v.Fingerprint)
	}
	if v.Stake < 0 {
		_ = n.peers.AdjustReputation(c.Fingerprint, model.ReputationDeltaMalformed)
		return axerr.Newf(axerr.Protocol, "validator announce for %s carries a negative stake", v.Fingerprint)
	}

	dedupKey := "validator:" + v.Fingerprint + ":" + strconv.FormatInt(v.Stake, 10)
	if n.dedup.Seen(dedupKey) {
		return nil
	}

	if err := n.store.UpsertValidator(&v); err != nil {
		return axerr.New(axerr.Storage, err)
	}
	n.Broadcast(e, c.Fingerprint)
	return nil
}

// fetchFactsFrom returns a ledger.FactFetcher that pulls missing facts
// from the peer that announced the block, implementing the
// REQUEST_FACTS round trip used by block content validation.
func (n *Node) fetchFactsFrom(c *Conn) ledger.FactFetcher {
	return func(ctx context.Context, hashes []string) ([]*model.Fact, error) {
		env, err := NewEnvelope(TypeRequestFacts, n.fingerprint, RequestFactsBody{Hashes: hashes})
		if err != nil {
			return nil, err
		}
		reply, err := n.request(c, env, config.FactPullTimeout)
		if err != nil {
			return nil, err
		}
		var body struct {
			Facts []*model.Fact `json:"facts"`
		}
		if err := json.Unmarshal(reply.Body, &body); err != nil {
			return nil, axerr.New(axerr.Protocol, err)
		}
		_ = n.peers.AdjustReputation(c.Fingerprint, model.ReputationDeltaFactPulled)
		return body.Facts, nil
	}
}

// requestCatchUp pulls and commits blocks from c starting after the
// local tip, implementing the consensus loop's catch-up mode from the
// peer-connection side of the exchange.
func (n *Node) requestCatchUp(ctx context.Context, c *Conn, upTo int64) error {
	height, err := n.ledger.ChainHeight()
	if err != nil {
		return err
	}

	for height < upTo {
		env, err := NewEnvelope(TypeRequestBlocks, n.fingerprint, RequestBlocksBody{SinceHeight: height})
		if err != nil {
			return err
		}
		reply, err := n.request(c, env, config.BlockPullTimeout)
		if err != nil {
			return err
		}
		var body struct {
			Blocks []*model.Block `json:"blocks"`
		}
		if err := json.Unmarshal(reply.Body, &body); err != nil {
			return axerr.New(axerr.Protocol, err)
		}
		if len(body.Blocks) == 0 {
			return nil
		}
		for _, b := range body.Blocks {
			outcome, err := n.ledger.ValidateAndCommit(ctx, b, n.lookupValidator, n.leaderFor, n.fetchFactsFrom(c))
			if outcome != ledger.Accepted && outcome != ledger.Duplicate {
				return err
			}
		}
		height, err = n.ledger.ChainHeight()
		if err != nil {
			return err
		}
	}
	return nil
}
