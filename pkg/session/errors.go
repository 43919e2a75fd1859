package session

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRegistered  = errors.New("already registered")
	ErrNotRegistered      = errors.New("not registered")
	ErrInvalidUsername    = errors.New("username must be 1 to 255 bytes")
	ErrUnknownPeer        = errors.New("unknown peer")
	ErrMissingKey         = errors.New("no symmetric key for peer")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Kind classifies a session failure
type Kind int

const (
	// KindTransport covers connect, read, write and timeout failures
	KindTransport Kind = iota + 1
	// KindProtocol covers malformed headers and payloads
	KindProtocol
	// KindServer is an explicit error response from the relay
	KindServer
	// KindCrypto covers key generation, wrapping and decryption failures
	KindCrypto
	// KindState is an operation invoked in the wrong local state
	KindState
	// KindNotFound is an unknown peer
	KindNotFound
	// KindStorage is a failure of the attached identity store
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindServer:
		return "server"
	case KindCrypto:
		return "crypto"
	case KindState:
		return "state"
	case KindNotFound:
		return "not-found"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is returned by every Session operation
type Error struct {
	Kind   Kind
	Op     string // Session operation, e.g. "register"
	Detail string // Human-readable context, may be empty
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or 0 when err is not a session error
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

func newError(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Detail: fmt.Sprintf(format, args...),
		Err:    err,
	}
}
