// Package axerr defines the closed taxonomy of error kinds used across
// Axiom's components: network-edge errors are absorbed at the edge,
// storage errors propagate to the caller, and invariant violations
// terminate the process.
package axerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error categories a caller can branch on without
// inspecting error strings.
type Kind uint32

const (
	// Configuration is a bad CLI flag or environment variable; fatal at startup.
	Configuration Kind = iota
	// Storage is a backing-store failure. May be transient or fatal.
	Storage
	// Crypto is a signature or hash mismatch.
	Crypto
	// Protocol is a malformed frame, unknown message type, or oversize payload.
	Protocol
	// Timeout is an expected reply that never arrived.
	Timeout
	// Consensus is an invalid block, wrong leader, or equivocation.
	Consensus
	// NotFound is benign: 404 on HTTP, empty reply on P2P.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "ConfigurationError"
	case Storage:
		return "StorageError"
	case Crypto:
		return "CryptoError"
	case Protocol:
		return "ProtocolError"
	case Timeout:
		return "TimeoutError"
	case Consensus:
		return "ConsensusError"
	case NotFound:
		return "NotFound"
	default:
		return "UnknownError"
	}
}

// Error wraps an underlying cause with a Kind and whether it is fatal
// to the whole process (as opposed to just the request/connection that
// triggered it).
type Error struct {
	kind  Kind
	fatal bool
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

// Cause implements the github.com/pkg/errors Causer interface.
func (e *Error) Cause() error { return e.cause }

// Kind returns the error's category.
func (e *Error) Kind() Kind { return e.kind }

// Fatal reports whether this error should terminate the process.
func (e *Error) Fatal() bool { return e.fatal }

// New wraps cause as a non-fatal error of the given kind.
func New(kind Kind, cause error) *Error {
	return &Error{kind: kind, cause: errors.WithStack(cause)}
}

// Newf formats a message and wraps it as a non-fatal error of the given kind.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Errorf(format, args...)}
}

// Fatalf formats a message and wraps it as a fatal (invariant-violation
// class) error of the given kind.
func Fatalf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, fatal: true, cause: errors.Errorf(format, args...)}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// AsFatal reports whether err is a fatal *Error, and returns it.
func AsFatal(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e.fatal {
		return e, true
	}
	return nil, false
}
