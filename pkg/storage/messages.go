package storage

import (
	"fmt"
	"strings"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
	"github.com/ZentaChain/relaytalk/pkg/protocol"
)

// ===== MESSAGE OPERATIONS =====

// StoredMessage is one sent or pulled message
type StoredMessage struct {
	ID         int64
	PeerID     protocol.ClientID
	RelayID    uint32 // message id assigned by the relay
	Type       protocol.MessageType
	Content    []byte // plaintext, encrypted at rest
	Timestamp  int64  // unix milliseconds
	IsOutgoing bool
	Status     MessageStatus
	Error      string
}

// SaveMessage stores a message in the database
func (db *MessageDB) SaveMessage(msg *StoredMessage) error {
	// Encrypt content
	encryptedContent, err := crypto.AESEncrypt(msg.Content, db.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt content: %w", err)
	}

	if msg.Timestamp == 0 {
		msg.Timestamp = nowMillis()
	}

	query := `
		INSERT INTO messages (
			peer_id, relay_id, message_type, content, timestamp,
			is_outgoing, status, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.db.Exec(
		query,
		msg.PeerID.String(),
		msg.RelayID,
		uint8(msg.Type),
		encryptedContent,
		msg.Timestamp,
		boolToInt(msg.IsOutgoing),
		msg.Status,
		msg.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	msg.ID = id

	// Update conversation
	if err := db.updateConversation(msg); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	return nil
}

// GetConversation returns the latest limit messages exchanged with peer,
// oldest first
func (db *MessageDB) GetConversation(peer protocol.ClientID, limit int) ([]*StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, peer_id, relay_id, message_type, content, timestamp,
		       is_outgoing, status, error
		FROM (
			SELECT * FROM messages
			WHERE peer_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := db.db.Query(query, peer.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*StoredMessage

	for rows.Next() {
		msg, err := db.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// CountMessages returns the number of stored messages
func (db *MessageDB) CountMessages() (int, error) {
	var n int
	err := db.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// SearchMessages searches decrypted message text. Every candidate row has
// to be decrypted, so this is linear in the history size.
func (db *MessageDB) SearchMessages(searchText string, limit int) ([]*StoredMessage, error) {
	query := `
		SELECT id, peer_id, relay_id, message_type, content, timestamp,
		       is_outgoing, status, error
		FROM messages
		WHERE message_type != ?
		ORDER BY timestamp DESC, id DESC
	`

	rows, err := db.db.Query(query, uint8(protocol.MessageTypeSymmetricKey))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*StoredMessage

	for rows.Next() {
		msg, err := db.scanMessage(rows)
		if err != nil {
			continue // Skip messages that can't be decrypted
		}

		if strings.Contains(string(msg.Content), searchText) {
			messages = append(messages, msg)
			if len(messages) >= limit {
				break
			}
		}
	}

	return messages, rows.Err()
}

func (db *MessageDB) scanMessage(row scanner) (*StoredMessage, error) {
	var msg StoredMessage
	var rawPeer string
	var msgType uint8
	var encryptedContent []byte
	var isOutgoing int

	err := row.Scan(
		&msg.ID,
		&rawPeer,
		&msg.RelayID,
		&msgType,
		&encryptedContent,
		&msg.Timestamp,
		&isOutgoing,
		&msg.Status,
		&msg.Error,
	)
	if err != nil {
		return nil, err
	}

	msg.PeerID, err = protocol.ParseClientID(rawPeer)
	if err != nil {
		return nil, err
	}
	msg.Type = protocol.MessageType(msgType)
	msg.IsOutgoing = intToBool(isOutgoing)

	// Decrypt content
	msg.Content, err = crypto.AESDecrypt(encryptedContent, db.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt content: %w", err)
	}

	return &msg, nil
}
