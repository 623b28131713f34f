package p2p

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Transport listens for and dials TLS connections. It carries no
// Raft-style advertise/membership plumbing; gossip has no use for it.
type Transport struct {
	listener net.Listener
	config   *tls.Config
}

// Listen opens a TLS listener on bindAddr using config.
func Listen(bindAddr string, config *tls.Config) (*Transport, error) {
	listener, err := tls.Listen("tcp", bindAddr, config)
	if err != nil {
		return nil, errors.Wrap(err, "p2p: listening")
	}
	return &Transport{listener: listener, config: config}, nil
}

// Accept blocks until a peer connects.
func (t *Transport) Accept() (net.Conn, error) {
	return t.listener.Accept()
}

// Addr returns the bound listen address.
func (t *Transport) Addr() net.Addr {
	return t.listener.Addr()
}

// Close stops accepting new connections.
func (t *Transport) Close() error {
	return t.listener.Close()
}

// Dial opens an outbound TLS connection to address.
func (t *Transport) Dial(address string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(&dialer, "tcp", address, t.config)
}
