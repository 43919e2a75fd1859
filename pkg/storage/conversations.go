package storage

import (
	"github.com/ZentaChain/relaytalk/pkg/protocol"
)

// ===== CONVERSATION OPERATIONS =====

// Conversation summarizes the history with one peer
type Conversation struct {
	PeerID        protocol.ClientID
	LastMessageID int64
	LastMessage   string
	LastTimestamp int64
	UnreadCount   int
}

// updateConversation updates conversation metadata after new message
func (db *MessageDB) updateConversation(msg *StoredMessage) error {
	// Key exchanges carry no readable text
	if msg.Type == protocol.MessageTypeSymmetricKey {
		return nil
	}

	unread := 0
	if !msg.IsOutgoing && msg.Status == MessageStatusReceived {
		unread = 1
	}

	query := `
		INSERT INTO conversations (
			peer_id, last_message_id, last_message, last_timestamp, unread_count
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			last_message_id = excluded.last_message_id,
			last_message = excluded.last_message,
			last_timestamp = excluded.last_timestamp,
			unread_count = conversations.unread_count + excluded.unread_count
	`

	_, err := db.db.Exec(
		query,
		msg.PeerID.String(),
		msg.ID,
		preview(msg.Content),
		msg.Timestamp,
		unread,
	)

	return err
}

// GetConversations retrieves all conversations, most recent first
func (db *MessageDB) GetConversations() ([]*Conversation, error) {
	query := `
		SELECT peer_id, last_message_id, last_message, last_timestamp, unread_count
		FROM conversations
		ORDER BY last_timestamp DESC
	`

	rows, err := db.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*Conversation

	for rows.Next() {
		var conv Conversation
		var rawPeer string

		err := rows.Scan(
			&rawPeer,
			&conv.LastMessageID,
			&conv.LastMessage,
			&conv.LastTimestamp,
			&conv.UnreadCount,
		)
		if err != nil {
			return nil, err
		}

		conv.PeerID, err = protocol.ParseClientID(rawPeer)
		if err != nil {
			return nil, err
		}

		conversations = append(conversations, &conv)
	}

	return conversations, rows.Err()
}

// MarkConversationRead resets the unread counter for peer
func (db *MessageDB) MarkConversationRead(peer protocol.ClientID) error {
	query := `UPDATE conversations SET unread_count = 0 WHERE peer_id = ?`
	_, err := db.db.Exec(query, peer.String())
	return err
}
