// Package p2p implements the TLS-framed gossip transport: handshake,
// peer discovery, block/fact dissemination, and reputation-driven
// disconnection, over a small closed set of gossip message types.
package p2p

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MessageType is the closed set of frame payload types the wire
// protocol accepts. An unrecognized type is a ProtocolError.
type MessageType string

const (
	TypeHello             MessageType = "HELLO"
	TypeHelloAck          MessageType = "HELLO_ACK"
	TypePeerRequest       MessageType = "PEER_REQUEST"
	TypePeerList          MessageType = "PEER_LIST"
	TypeBlockAnnounce     MessageType = "BLOCK_ANNOUNCE"
	TypeRequestBlocks     MessageType = "REQUEST_BLOCKS"
	TypeBlocks            MessageType = "BLOCKS"
	TypeRequestFacts      MessageType = "REQUEST_FACTS"
	TypeFacts             MessageType = "FACTS"
	TypePing              MessageType = "PING"
	TypePong              MessageType = "PONG"
	TypeValidatorAnnounce MessageType = "VALIDATOR_ANNOUNCE"
)

// validMessageTypes is consulted by Envelope.Validate to reject
// anything outside the closed set.
var validMessageTypes = map[MessageType]bool{
	TypeHello: true, TypeHelloAck: true, TypePeerRequest: true, TypePeerList: true,
	TypeBlockAnnounce: true, TypeRequestBlocks: true, TypeBlocks: true,
	TypeRequestFacts: true, TypeFacts: true, TypePing: true, TypePong: true,
	TypeValidatorAnnounce: true,
}

// Envelope is the JSON object carried by every frame:
// {type, id, from, body}.
type Envelope struct {
	Type MessageType     `json:"type"`
	ID   string          `json:"id"`
	From string          `json:"from"`
	Body json.RawMessage `json:"body"`
}

// NewEnvelope builds an envelope with a fresh correlation id.
func NewEnvelope(typ MessageType, from string, body interface{}) (*Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: typ, ID: uuid.New().String(), From: from, Body: raw}, nil
}

// Reply builds a reply envelope correlated to this envelope's ID.
func (e *Envelope) Reply(typ MessageType, from string, body interface{}) (*Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: typ, ID: e.ID, From: from, Body: raw}, nil
}

// Validate reports whether e.Type is a recognized message type.
func (e *Envelope) Validate() bool {
	return validMessageTypes[e.Type]
}

// Body payloads, one struct per message type in the wire table.

// HelloBody carries the sender's real DER-encoded public key, not its
// fingerprint — the fingerprint is already the envelope's own `from`
// field, so HELLO's job is to hand over the key that fingerprint is a
// digest of, letting the receiver verify signatures and resolve
// validator authority without a separate key-exchange round trip.
type HelloBody struct {
	PubKey      []byte `json:"pubkey"`
	ListenAddr  string `json:"listen_addr"`
	ChainHeight int64  `json:"chain_height"`
}

type PeerRequestBody struct{}

type PeerListEntry struct {
	Addr     string `json:"addr"`
	PubKey   string `json:"pubkey"`
	LastSeen int64  `json:"last_seen"`
}

type PeerListBody struct {
	Peers []PeerListEntry `json:"peers"`
}

type RequestBlocksBody struct {
	SinceHeight int64 `json:"since_height"`
}

type RequestFactsBody struct {
	Hashes []string `json:"hashes"`
}

type PingBody struct {
	TS int64 `json:"ts"`
}
