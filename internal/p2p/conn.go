package p2p

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axiom-network/axiom/internal/config"
)

// Conn wraps one live peer connection: a read loop dispatching parsed
// envelopes to a handler, and a bounded outbound queue so a slow peer
// can never block the sender of a broadcast. This is the same
// "bounded outbound queue, never block other peers" discipline the
// node's concurrency model requires.
type Conn struct {
	netConn     net.Conn
	Fingerprint string
	Addr        string
	out         chan *Envelope
	done        chan struct{}
	logger      *logrus.Entry
}

// NewConn wraps an established net.Conn. Fingerprint is filled in once
// the HELLO handshake completes.
func NewConn(netConn net.Conn, logger *logrus.Entry) *Conn {
	return &Conn{
		netConn: netConn,
		Addr:    netConn.RemoteAddr().String(),
		out:     make(chan *Envelope, config.OutboundQueueSize),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Send enqueues e for delivery. If the outbound queue is full the
// frame is dropped for this peer only, per the backpressure rule in
// the concurrency model — the peer will re-sync on demand rather than
// have the broadcaster block.
func (c *Conn) Send(e *Envelope) bool {
	select {
	case c.out <- e:
		return true
	default:
		c.logger.WithField("peer", c.Addr).Warn("outbound queue full, dropping frame")
		return false
	}
}

// WriteLoop drains the outbound queue onto the wire until Close is
// called or a write fails.
func (c *Conn) WriteLoop() error {
	for {
		select {
		case e := <-c.out:
			if err := WriteEnvelope(c.netConn, e); err != nil {
				return err
			}
		case <-c.done:
			return nil
		}
	}
}

// ReadLoop reads frames until EOF, an error, or Close, invoking handle
// for each successfully parsed envelope. A handler error ends the loop;
// callers translate that into a reputation penalty and disconnect.
func (c *Conn) ReadLoop(handle func(*Envelope) error) error {
	for {
		e, err := ReadEnvelope(c.netConn)
		if err != nil {
			return err
		}
		if err := handle(e); err != nil {
			return err
		}
	}
}

// Close flushes the outbound queue for up to 1s, then closes the
// underlying socket, matching the graceful-shutdown sequence in the
// concurrency model.
func (c *Conn) Close() error {
	close(c.done)
	deadline := time.Now().Add(1 * time.Second)
	for len(c.out) > 0 && time.Now().Before(deadline) {
		select {
		case e := <-c.out:
			_ = WriteEnvelope(c.netConn, e)
		default:
		}
	}
	return c.netConn.Close()
}
