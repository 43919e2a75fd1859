package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPassword = errors.New("invalid password")
)

// passwordCheck is encrypted under the derived key and stored in meta so a
// wrong password is detected at open time
var passwordCheck = []byte("relaytalk message store")

// MessageStatus represents message delivery status
type MessageStatus string

const (
	MessageStatusSent     MessageStatus = "sent"
	MessageStatusReceived MessageStatus = "received"
	MessageStatusFailed   MessageStatus = "failed"
)

// MessageDB manages encrypted local storage of peers and message history
type MessageDB struct {
	db            *sql.DB
	encryptionKey []byte // Derived from user password
}

// NewMessageDB opens or creates an encrypted message database
func NewMessageDB(dbPath string, password string) (*MessageDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	mdb := &MessageDB{db: db}

	if err := mdb.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	if err := mdb.unlock(password); err != nil {
		db.Close()
		return nil, err
	}

	return mdb, nil
}

// initSchema creates database tables
func (db *MessageDB) initSchema() error {
	schema := `
	-- Key derivation parameters and password check
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);

	-- Messages table
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer_id TEXT NOT NULL,
		relay_id INTEGER NOT NULL,
		message_type INTEGER NOT NULL,
		content BLOB NOT NULL,
		timestamp INTEGER NOT NULL,
		is_outgoing INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	-- Contacts table, one row per PeerKeyStore record
	CREATE TABLE IF NOT EXISTS contacts (
		peer_id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		public_key BLOB,
		symmetric_key BLOB,
		key_state INTEGER NOT NULL DEFAULT 0,
		added_at INTEGER NOT NULL,
		last_seen INTEGER NOT NULL
	);

	-- Conversations table
	CREATE TABLE IF NOT EXISTS conversations (
		peer_id TEXT PRIMARY KEY,
		last_message_id INTEGER,
		last_message TEXT,
		last_timestamp INTEGER,
		unread_count INTEGER NOT NULL DEFAULT 0
	);

	-- Indexes for performance
	CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_timestamp ON conversations(last_timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_contacts_username ON contacts(username);
	`

	_, err := db.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// unlock derives the at-rest key from password and the per-database salt.
// A fresh database gets a new salt and password check.
func (db *MessageDB) unlock(password string) error {
	salt, err := db.getMeta("salt")
	if errors.Is(err, ErrNotFound) {
		return db.initKey(password)
	}
	if err != nil {
		return err
	}

	key := crypto.DeriveStorageKey(password, salt)

	check, err := db.getMeta("check")
	if err != nil {
		return err
	}
	if _, err := crypto.AESDecrypt(check, key); err != nil {
		return ErrInvalidPassword
	}

	db.encryptionKey = key
	return nil
}

func (db *MessageDB) initKey(password string) error {
	salt, err := crypto.GenerateNonce(crypto.SaltSize)
	if err != nil {
		return err
	}

	key := crypto.DeriveStorageKey(password, salt)
	check, err := crypto.AESEncrypt(passwordCheck, key)
	if err != nil {
		return err
	}

	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for k, v := range map[string][]byte{"salt": salt, "check": check} {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("failed to store %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	db.encryptionKey = key
	return nil
}

func (db *MessageDB) getMeta(key string) ([]byte, error) {
	var value []byte
	err := db.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return value, err
}

// Close closes the database connection
func (db *MessageDB) Close() error {
	return db.db.Close()
}
