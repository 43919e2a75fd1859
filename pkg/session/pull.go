package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/ZentaChain/relaytalk/pkg/protocol"
)

// Received is one processed record of a pull. Err is set when this record
// alone could not be processed; its siblings are unaffected.
type Received struct {
	From      protocol.ClientID
	FromName  string
	MessageID uint32
	Type      protocol.MessageType
	Text      string
	Err       error
}

// PullMessages fetches queued messages and applies them in wire order. A
// key exchange record takes effect before the records that follow it, so a
// batch may carry both the key and the text it encrypts.
func (s *Session) PullMessages(ctx context.Context) ([]Received, error) {
	const op = "pull"

	if err := s.requireRegistered(op); err != nil {
		return nil, err
	}

	resp, err := s.roundTrip(ctx, op, &protocol.PullMessagesRequest{})
	if err != nil {
		return nil, err
	}

	batch, err := expect[*protocol.PulledBatch](s, op, resp)
	if err != nil {
		return nil, err
	}

	out := make([]Received, 0, len(batch.Records))
	for _, rec := range batch.Records {
		out = append(out, s.apply(op, rec))
	}

	s.logger.Debug("pulled", zap.Int("records", len(out)))
	return out, nil
}

func (s *Session) apply(op string, rec protocol.PulledRecord) Received {
	peer := s.peers.Touch(rec.SenderID)
	r := Received{
		From:      rec.SenderID,
		FromName:  peer.Username,
		MessageID: rec.MessageID,
		Type:      rec.Type,
	}

	switch rec.Type {
	case protocol.MessageTypeSymmetricKey:
		key, err := s.identity.Decrypt(rec.Content)
		if err != nil {
			r.Err = newError(KindCrypto, op, err, "unwrap key from %s", rec.SenderID)
			break
		}
		s.peers.InstallSymmetricKey(rec.SenderID, key)
		s.logger.Info("symmetric key received", zap.Stringer("peer", rec.SenderID))

	case protocol.MessageTypeEncryptedText:
		if peer.State != KeyEstablished {
			r.Err = newError(KindCrypto, op, ErrMissingKey, "message %d from %s", rec.MessageID, rec.SenderID)
			break
		}
		plaintext, err := s.sym.Decrypt(peer.SymmetricKey, rec.Content)
		if err != nil {
			r.Err = newError(KindCrypto, op, err, "message %d from %s", rec.MessageID, rec.SenderID)
			break
		}
		r.Text = string(plaintext)

	case protocol.MessageTypePlainText:
		r.Text = string(rec.Content)

	default:
		r.Err = newError(KindProtocol, op, ErrUnknownMessageType, "%s in message %d", rec.Type, rec.MessageID)
	}

	if r.Err != nil {
		s.logger.Warn("record skipped", zap.Uint32("message_id", rec.MessageID), zap.Error(r.Err))
	}
	return r
}
