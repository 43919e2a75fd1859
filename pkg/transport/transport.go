// Package transport carries request and response bytes between a session and
// the relay server.
//
// A Transport is half-duplex from the caller's point of view: the session
// writes one request, then reads the response header and payload with
// ReceiveExact. Every read is bounded by the configured read timeout. A read
// that fails for any reason, a timeout or a short read included, closes the
// connection; later calls return ErrBroken so no caller ever continues from a
// partially consumed response.
package transport

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	ErrClosed = errors.New("transport closed")
	ErrBroken = errors.New("transport broken by earlier failure")
)

// Default timeouts
const (
	DefaultDialTimeout  = 10 * time.Second
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Transport is the byte stream a session talks through
type Transport interface {
	// Send writes b in full
	Send(b []byte) error

	// ReceiveExact blocks until exactly n bytes are read
	ReceiveExact(n int) ([]byte, error)

	// Close releases the connection and unblocks pending reads
	Close() error
}

// Options configures Dial and NewConn
type Options struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
