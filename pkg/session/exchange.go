package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
	"github.com/ZentaChain/relaytalk/pkg/protocol"
)

// EnsureSymmetricKey returns the key shared with peer, running whatever part
// of the exchange is still missing:
//
//	UNKNOWN          -> GetPublicKey, cache the public key
//	PUBLIC_KEY_KNOWN -> wrap a fresh key, SendMessage(type 2), cache it
//	KEY_ESTABLISHED  -> cached key, no requests
//
// The state advances once the relay accepts the wrapped key. The peer only
// learns the key when it next pulls, so text sent right after may arrive
// before the peer can decrypt it.
func (s *Session) EnsureSymmetricKey(ctx context.Context, peer protocol.ClientID) ([]byte, error) {
	const op = "ensure-key"

	if err := s.requireRegistered(op); err != nil {
		return nil, err
	}
	return s.ensureKey(ctx, op, peer)
}

func (s *Session) ensureKey(ctx context.Context, op string, peer protocol.ClientID) ([]byte, error) {
	rec, _ := s.peers.Get(peer)
	if rec.State == KeyEstablished {
		return rec.SymmetricKey, nil
	}

	if rec.State == KeyUnknown {
		pub, err := s.fetchPublicKey(ctx, op, peer)
		if err != nil {
			return nil, err
		}
		rec.PublicKey = pub
	}

	key, err := s.sym.GenerateKey()
	if err != nil {
		return nil, newError(KindCrypto, op, err, "generate symmetric key")
	}

	wrapped, err := s.asym.Encrypt(rec.PublicKey, key)
	if err != nil {
		return nil, newError(KindCrypto, op, err, "wrap key for %s", peer)
	}

	if _, err := s.send(ctx, op, peer, protocol.MessageTypeSymmetricKey, wrapped); err != nil {
		return nil, err
	}

	s.peers.InstallSymmetricKey(peer, key)
	s.logger.Info("symmetric key sent", zap.Stringer("peer", peer))

	return key, nil
}

func (s *Session) fetchPublicKey(ctx context.Context, op string, peer protocol.ClientID) ([]byte, error) {
	resp, err := s.roundTrip(ctx, op, &protocol.GetPublicKeyRequest{PeerID: peer})
	if err != nil {
		if KindOf(err) == KindServer {
			return nil, newError(KindNotFound, op, ErrUnknownPeer, "%s: %v", peer, err)
		}
		return nil, err
	}

	ack, err := expect[*protocol.PublicKeyAck](s, op, resp)
	if err != nil {
		return nil, err
	}
	if ack.PeerID != peer {
		return nil, s.protocolError(op, ErrUnexpectedResponse, "asked for %s, got key for %s", peer, ack.PeerID)
	}

	s.peers.SetPublicKey(peer, ack.PublicKey)
	s.logger.Debug("public key cached",
		zap.Stringer("peer", peer),
		zap.String("fingerprint", crypto.Fingerprint(ack.PublicKey)))

	return ack.PublicKey, nil
}

// SendText encrypts text under the key shared with peer and relays it. The
// key exchange runs first when needed. Returns the relay's message id.
func (s *Session) SendText(ctx context.Context, peer protocol.ClientID, text string) (uint32, error) {
	const op = "send-text"

	if err := s.requireRegistered(op); err != nil {
		return 0, err
	}

	key, err := s.ensureKey(ctx, op, peer)
	if err != nil {
		return 0, err
	}

	ciphertext, err := s.sym.Encrypt(key, []byte(text))
	if err != nil {
		return 0, newError(KindCrypto, op, err, "encrypt for %s", peer)
	}

	return s.send(ctx, op, peer, protocol.MessageTypeEncryptedText, ciphertext)
}

// SendTextTo resolves username with ResolvePeer and calls SendText
func (s *Session) SendTextTo(ctx context.Context, username, text string) (protocol.ClientID, uint32, error) {
	if err := s.requireRegistered("send-text"); err != nil {
		return protocol.ClientID{}, 0, err
	}

	peer, err := s.ResolvePeer(username)
	if err != nil {
		return protocol.ClientID{}, 0, err
	}

	id, err := s.SendText(ctx, peer, text)
	return peer, id, err
}

func (s *Session) send(ctx context.Context, op string, peer protocol.ClientID, typ protocol.MessageType, content []byte) (uint32, error) {
	resp, err := s.roundTrip(ctx, op, &protocol.SendMessageRequest{
		Recipient: peer,
		Type:      typ,
		Content:   content,
	})
	if err != nil {
		return 0, err
	}

	ack, err := expect[*protocol.SendAck](s, op, resp)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("message relayed",
		zap.Stringer("peer", peer),
		zap.Stringer("type", typ),
		zap.Uint32("message_id", ack.MessageID))

	return ack.MessageID, nil
}
