package storage

import (
	"github.com/ZentaChain/relaytalk/pkg/protocol"
	"github.com/ZentaChain/relaytalk/pkg/session"
)

// SaveSent records an outgoing text the relay accepted
func (db *MessageDB) SaveSent(peer protocol.ClientID, relayID uint32, text string) error {
	return db.SaveMessage(&StoredMessage{
		PeerID:     peer,
		RelayID:    relayID,
		Type:       protocol.MessageTypeEncryptedText,
		Content:    []byte(text),
		IsOutgoing: true,
		Status:     MessageStatusSent,
	})
}

// SaveReceived records one processed pull record. A key exchange that
// succeeded carries no text and is not stored.
func (db *MessageDB) SaveReceived(r session.Received) error {
	if r.Type == protocol.MessageTypeSymmetricKey && r.Err == nil {
		return nil
	}

	msg := &StoredMessage{
		PeerID:  r.From,
		RelayID: r.MessageID,
		Type:    r.Type,
		Content: []byte(r.Text),
		Status:  MessageStatusReceived,
	}
	if r.Err != nil {
		msg.Status = MessageStatusFailed
		msg.Error = r.Err.Error()
	}
	return db.SaveMessage(msg)
}
