package p2p

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/axiom-network/axiom/internal/axerr"
	"github.com/axiom-network/axiom/internal/config"
)

// ErrFrameTooLarge is returned by ReadFrame when a peer announces a
// length exceeding config.MaxFrameSize; the caller must drop the
// connection and apply the oversize-frame reputation penalty.
var ErrFrameTooLarge = errors.New("p2p: frame exceeds maximum size")

// WriteFrame writes payload to w as a [4-byte big-endian length][bytes] frame.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > config.MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteEnvelope marshals and frames e onto w.
func WriteEnvelope(w io.Writer, e *Envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return WriteFrame(w, raw)
}

// ReadEnvelope reads and parses the next frame on r as an Envelope,
// rejecting both oversize frames and messages outside the closed type
// set with a ProtocolError.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	raw, err := ReadFrame(r)
	if err != nil {
		if err == ErrFrameTooLarge {
			return nil, axerr.New(axerr.Protocol, err)
		}
		return nil, err
	}
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, axerr.New(axerr.Protocol, err)
	}
	if !e.Validate() {
		return nil, axerr.Newf(axerr.Protocol, "unknown message type %q", e.Type)
	}
	return &e, nil
}
