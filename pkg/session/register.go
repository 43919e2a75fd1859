package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ZentaChain/relaytalk/pkg/protocol"
)

// Register creates a key pair and registers username with the relay. It is
// rejected without any network traffic when an id is already assigned.
func (s *Session) Register(ctx context.Context, username string) (protocol.ClientID, error) {
	const op = "register"

	if s.identity.Registered() {
		return s.identity.ID(), newError(KindState, op, ErrAlreadyRegistered, "as %q", s.identity.Username())
	}

	if err := s.identity.Generate(username); err != nil {
		if errors.Is(err, ErrInvalidUsername) {
			return protocol.ClientID{}, newError(KindState, op, err, "%d bytes", len(username))
		}
		return protocol.ClientID{}, newError(KindCrypto, op, err, "generate key pair")
	}

	resp, err := s.roundTrip(ctx, op, &protocol.RegisterRequest{
		Name:      username,
		PublicKey: s.identity.PublicKey(),
	})
	if err != nil {
		return protocol.ClientID{}, err
	}

	ack, err := expect[*protocol.RegistrationAck](s, op, resp)
	if err != nil {
		return protocol.ClientID{}, err
	}

	if err := s.identity.Assign(ack.ClientID); err != nil {
		return protocol.ClientID{}, s.protocolError(op, err, "registration ack")
	}

	s.logger.Info("registered",
		zap.String("username", username),
		zap.Stringer("id", ack.ClientID))

	if s.store != nil {
		if err := s.store.SaveIdentity(s.identity.Record()); err != nil {
			return ack.ClientID, newError(KindStorage, op, err, "registered as %s but saving the identity failed", ack.ClientID)
		}
	}

	return ack.ClientID, nil
}

// ListUsers fetches the user list and merges it into the key store. Cached
// keys and key state are left untouched.
func (s *Session) ListUsers(ctx context.Context) ([]PeerRecord, error) {
	const op = "list-users"

	if err := s.requireRegistered(op); err != nil {
		return nil, err
	}

	resp, err := s.roundTrip(ctx, op, &protocol.GetUsersRequest{})
	if err != nil {
		return nil, err
	}

	list, err := expect[*protocol.UserList](s, op, resp)
	if err != nil {
		return nil, err
	}

	users := make([]PeerRecord, 0, len(list.Users))
	for _, u := range list.Users {
		users = append(users, s.peers.MergeUser(u.ID, u.Username))
	}

	s.logger.Debug("user list merged", zap.Int("users", len(users)), zap.Int("known", s.peers.Len()))
	return users, nil
}

// ResolvePeer finds a peer id by username: the key store first, then the
// attached Directory.
func (s *Session) ResolvePeer(username string) (protocol.ClientID, error) {
	const op = "resolve"

	if id, ok := s.peers.Lookup(username); ok {
		return id, nil
	}

	if s.directory != nil {
		id, ok, err := s.directory.LookupID(username)
		if err != nil {
			return protocol.ClientID{}, newError(KindStorage, op, err, "directory lookup %q", username)
		}
		if ok {
			s.peers.MergeUser(id, username)
			return id, nil
		}
	}

	return protocol.ClientID{}, newError(KindNotFound, op, ErrUnknownPeer, "%q", username)
}
