package storage

import (
	"database/sql"
	"fmt"

	"github.com/ZentaChain/relaytalk/pkg/protocol"
	"github.com/ZentaChain/relaytalk/pkg/session"
)

// ===== CONTACT OPERATIONS =====

// Contact is a persisted PeerKeyStore record
type Contact struct {
	PeerID       protocol.ClientID
	Username     string
	PublicKey    []byte
	SymmetricKey []byte
	KeyState     session.KeyState
	AddedAt      int64
	LastSeen     int64
}

// SaveContact adds or updates a contact
func (db *MessageDB) SaveContact(contact *Contact) error {
	return db.saveContact(db.db, contact)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (db *MessageDB) saveContact(ex execer, contact *Contact) error {
	// Encrypt sensitive fields
	encryptedKey, err := db.seal(contact.SymmetricKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt symmetric key: %w", err)
	}

	now := nowMillis()
	if contact.AddedAt == 0 {
		contact.AddedAt = now
	}
	if contact.LastSeen == 0 {
		contact.LastSeen = now
	}

	query := `
		INSERT INTO contacts (
			peer_id, username, public_key, symmetric_key, key_state, added_at, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE contacts.username END,
			public_key = COALESCE(excluded.public_key, contacts.public_key),
			symmetric_key = COALESCE(excluded.symmetric_key, contacts.symmetric_key),
			key_state = MAX(excluded.key_state, contacts.key_state),
			last_seen = excluded.last_seen
	`

	_, err = ex.Exec(
		query,
		contact.PeerID.String(),
		contact.Username,
		nilIfEmpty(contact.PublicKey),
		encryptedKey,
		int(contact.KeyState),
		contact.AddedAt,
		contact.LastSeen,
	)

	return err
}

// GetContact retrieves a contact by peer id
func (db *MessageDB) GetContact(peer protocol.ClientID) (*Contact, error) {
	query := `
		SELECT peer_id, username, public_key, symmetric_key, key_state, added_at, last_seen
		FROM contacts WHERE peer_id = ?
	`

	contact, err := db.scanContact(db.db.QueryRow(query, peer.String()))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return contact, err
}

// GetAllContacts retrieves all contacts in the order they were first seen
func (db *MessageDB) GetAllContacts() ([]*Contact, error) {
	query := `
		SELECT peer_id, username, public_key, symmetric_key, key_state, added_at, last_seen
		FROM contacts
		ORDER BY added_at ASC, rowid ASC
	`

	rows, err := db.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*Contact

	for rows.Next() {
		contact, err := db.scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}

	return contacts, rows.Err()
}

// LookupID resolves a username to a peer id
func (db *MessageDB) LookupID(username string) (protocol.ClientID, bool, error) {
	var raw string
	err := db.db.QueryRow(`SELECT peer_id FROM contacts WHERE username = ? ORDER BY last_seen DESC LIMIT 1`, username).Scan(&raw)
	if err == sql.ErrNoRows {
		return protocol.ClientID{}, false, nil
	}
	if err != nil {
		return protocol.ClientID{}, false, err
	}

	id, err := protocol.ParseClientID(raw)
	if err != nil {
		return protocol.ClientID{}, false, err
	}
	return id, true, nil
}

// SavePeers writes a PeerKeyStore snapshot in one transaction
func (db *MessageDB) SavePeers(peers []session.PeerRecord) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range peers {
		contact := &Contact{
			PeerID:       p.ID,
			Username:     p.Username,
			PublicKey:    p.PublicKey,
			SymmetricKey: p.SymmetricKey,
			KeyState:     p.State,
		}
		if err := db.saveContact(tx, contact); err != nil {
			return fmt.Errorf("failed to save peer %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// LoadPeers returns the stored contacts as PeerKeyStore records
func (db *MessageDB) LoadPeers() ([]session.PeerRecord, error) {
	contacts, err := db.GetAllContacts()
	if err != nil {
		return nil, err
	}

	peers := make([]session.PeerRecord, 0, len(contacts))
	for _, c := range contacts {
		peers = append(peers, session.PeerRecord{
			ID:           c.PeerID,
			Username:     c.Username,
			PublicKey:    c.PublicKey,
			SymmetricKey: c.SymmetricKey,
			State:        c.KeyState,
		})
	}
	return peers, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (db *MessageDB) scanContact(row scanner) (*Contact, error) {
	var contact Contact
	var rawID string
	var encryptedKey []byte
	var keyState int

	err := row.Scan(
		&rawID,
		&contact.Username,
		&contact.PublicKey,
		&encryptedKey,
		&keyState,
		&contact.AddedAt,
		&contact.LastSeen,
	)
	if err != nil {
		return nil, err
	}

	contact.PeerID, err = protocol.ParseClientID(rawID)
	if err != nil {
		return nil, err
	}
	contact.KeyState = session.KeyState(keyState)

	// Decrypt symmetric key
	contact.SymmetricKey, err = db.open(encryptedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt symmetric key: %w", err)
	}

	return &contact, nil
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
