// Package session drives the relay protocol for one identity.
//
// A Session owns its IdentityManager and PeerKeyStore and talks to the relay
// through a single Transport, strictly one request and one full response at a
// time. Sessions do no internal locking: callers that share a Session across
// goroutines must serialize access, e.g. through one worker goroutine.
package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
	"github.com/ZentaChain/relaytalk/pkg/protocol"
	"github.com/ZentaChain/relaytalk/pkg/transport"
)

// Session is the client side of the relay protocol
type Session struct {
	transport transport.Transport
	identity  *IdentityManager
	peers     *PeerKeyStore
	asym      crypto.AsymmetricCipher
	sym       crypto.SymmetricCipher
	store     IdentityStore
	directory Directory
	logger    *zap.Logger
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithSymmetricCipher replaces the default AES-GCM cipher
func WithSymmetricCipher(c crypto.SymmetricCipher) Option {
	return func(s *Session) { s.sym = c }
}

// WithAsymmetricCipher replaces the default RSA cipher
func WithAsymmetricCipher(c crypto.AsymmetricCipher) Option {
	return func(s *Session) { s.asym = c }
}

// WithIdentityStore persists the identity after registration
func WithIdentityStore(store IdentityStore) Option {
	return func(s *Session) { s.store = store }
}

// WithDirectory adds a username lookup used by SendTextTo
func WithDirectory(dir Directory) Option {
	return func(s *Session) { s.directory = dir }
}

// WithPeerKeyStore uses an existing store, e.g. one restored from disk
func WithPeerKeyStore(peers *PeerKeyStore) Option {
	return func(s *Session) { s.peers = peers }
}

// New creates a session in the NEW state
func New(t transport.Transport, opts ...Option) *Session {
	s := &Session{
		transport: t,
		asym:      crypto.RSA{},
		sym:       crypto.AESGCM{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.peers == nil {
		s.peers = NewPeerKeyStore()
	}
	s.identity = NewIdentityManager(s.asym)
	return s
}

// RestoreIdentity loads a persisted identity. A record with an id puts the
// session straight into REGISTERED.
func (s *Session) RestoreIdentity(rec IdentityRecord) error {
	if err := s.identity.Restore(rec); err != nil {
		return newError(KindState, "restore", err, "identity %q", rec.Username)
	}
	s.logger.Info("identity restored",
		zap.String("username", rec.Username),
		zap.Stringer("id", rec.ID))
	return nil
}

// Registered reports whether the session has an assigned id
func (s *Session) Registered() bool { return s.identity.Registered() }

// Identity returns the current identity record
func (s *Session) Identity() IdentityRecord { return s.identity.Record() }

// Peers exposes the session's key store
func (s *Session) Peers() *PeerKeyStore { return s.peers }

// Close closes the transport
func (s *Session) Close() error { return s.transport.Close() }

func (s *Session) requireRegistered(op string) error {
	if !s.identity.Registered() {
		return newError(KindState, op, ErrNotRegistered, "register first")
	}
	return nil
}

// roundTrip sends one request and reads one complete response. Cancelling
// ctx closes the transport, which fails any blocked read.
func (s *Session) roundTrip(ctx context.Context, op string, payload protocol.RequestPayload) (protocol.ResponsePayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindTransport, op, err, "before %s", payload.Op())
	}

	req, err := protocol.NewRequest(s.identity.ID(), payload)
	if err != nil {
		return nil, newError(KindProtocol, op, err, "build %s", payload.Op())
	}

	stop := context.AfterFunc(ctx, func() { s.transport.Close() })
	resp, err := s.exchange(ctx, op, req)

	// A cancellation that lands after the last read still closes the
	// transport; the caller must not see success on a dead connection.
	if !stop() && (err == nil || KindOf(err) == KindServer) {
		s.logger.Warn("connection closed by cancellation", zap.String("op", op))
		return nil, s.transportError(ctx, op, transport.ErrClosed, "after %s", payload.Op())
	}
	return resp, err
}

func (s *Session) exchange(ctx context.Context, op string, req *protocol.Request) (protocol.ResponsePayload, error) {
	s.logger.Debug("request",
		zap.String("op", op),
		zap.Stringer("code", req.Header.Op),
		zap.Uint32("size", req.Header.PayloadSize))

	if err := s.transport.Send(req.Encode()); err != nil {
		return nil, s.transportError(ctx, op, err, "send %s", req.Header.Op)
	}

	r := &transportReader{t: s.transport}
	resp, err := protocol.ReadResponse(r)
	if err != nil {
		if r.err != nil {
			return nil, s.transportError(ctx, op, r.err, "read response")
		}
		return nil, s.protocolError(op, err, "response header")
	}

	s.logger.Debug("response",
		zap.String("op", op),
		zap.Stringer("code", resp.Header.Code),
		zap.Uint32("size", resp.Header.PayloadSize))

	payload, err := resp.Decode()
	if err != nil {
		return nil, s.protocolError(op, err, "response payload")
	}

	if resp.Header.Code.IsError() {
		s.logger.Debug("server refused", zap.String("op", op), zap.Stringer("code", resp.Header.Code))
		return nil, newError(KindServer, op, payload.(*protocol.ServerError), "")
	}

	return payload, nil
}

// transportReader lets the codec read through a Transport. Each Read fills p
// completely with one ReceiveExact, so every read keeps its own deadline.
type transportReader struct {
	t   transport.Transport
	err error
}

func (r *transportReader) Read(p []byte) (int, error) {
	b, err := r.t.ReceiveExact(len(p))
	if err != nil {
		r.err = err
		return 0, err
	}
	return copy(p, b), nil
}

func (s *Session) transportError(ctx context.Context, op string, err error, format string, args ...any) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Join(ctxErr, err)
	}
	return newError(KindTransport, op, err, format, args...)
}

// protocolError closes the transport: after a malformed response the stream
// position can no longer be trusted.
func (s *Session) protocolError(op string, err error, format string, args ...any) error {
	s.logger.Warn("protocol violation, closing connection", zap.String("op", op), zap.Error(err))
	s.transport.Close()
	return newError(KindProtocol, op, err, format, args...)
}

// expect narrows a response to the variant an operation requires
func expect[T protocol.ResponsePayload](s *Session, op string, resp protocol.ResponsePayload) (T, error) {
	typed, ok := resp.(T)
	if !ok {
		var zero T
		return zero, s.protocolError(op, ErrUnexpectedResponse, "got %s", resp.Code())
	}
	return typed, nil
}
