package session

import (
	"fmt"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
	"github.com/ZentaChain/relaytalk/pkg/protocol"
)

// IdentityRecord is what gets persisted after registration
type IdentityRecord struct {
	Username   string
	ID         protocol.ClientID
	PrivateKey []byte
	PublicKey  []byte
}

// IdentityStore persists the identity record on successful registration
type IdentityStore interface {
	SaveIdentity(rec IdentityRecord) error
}

// Directory resolves a username to an id without a network call
type Directory interface {
	LookupID(username string) (protocol.ClientID, bool, error)
}

// IdentityManager owns the local key pair and the assigned id
type IdentityManager struct {
	cipher   crypto.AsymmetricCipher
	username string
	id       protocol.ClientID
	assigned bool
	keys     crypto.KeyPair
}

// NewIdentityManager creates an identity in the NEW state
func NewIdentityManager(cipher crypto.AsymmetricCipher) *IdentityManager {
	return &IdentityManager{cipher: cipher}
}

// Generate fixes the username and creates a fresh key pair. It is rejected
// once an id has been assigned.
func (m *IdentityManager) Generate(username string) error {
	if m.assigned {
		return ErrAlreadyRegistered
	}
	if len(username) == 0 || len(username) > protocol.UsernameSize {
		return ErrInvalidUsername
	}

	keys, err := m.cipher.GenerateKeyPair()
	if err != nil {
		return err
	}

	m.username = username
	m.keys = keys
	return nil
}

// Assign records the id from a RegistrationAck. The id is immutable.
func (m *IdentityManager) Assign(id protocol.ClientID) error {
	if m.assigned {
		return ErrAlreadyRegistered
	}
	if id.IsZero() {
		return fmt.Errorf("%w: zero client id", protocol.ErrMalformed)
	}
	m.id = id
	m.assigned = true
	return nil
}

// Registered reports whether an id has been assigned
func (m *IdentityManager) Registered() bool { return m.assigned }

// ID returns the assigned id, zero before registration
func (m *IdentityManager) ID() protocol.ClientID { return m.id }

// Username returns the username, empty before Generate
func (m *IdentityManager) Username() string { return m.username }

// PublicKey returns the shareable public key blob
func (m *IdentityManager) PublicKey() []byte { return m.keys.PublicKey }

// Decrypt unwraps data addressed to this identity
func (m *IdentityManager) Decrypt(data []byte) ([]byte, error) {
	if len(m.keys.PrivateKey) == 0 {
		return nil, fmt.Errorf("%w: no private key", crypto.ErrInvalidKey)
	}
	return m.cipher.Decrypt(m.keys.PrivateKey, data)
}

// Record returns the persistable identity
func (m *IdentityManager) Record() IdentityRecord {
	return IdentityRecord{
		Username:   m.username,
		ID:         m.id,
		PrivateKey: m.keys.PrivateKey,
		PublicKey:  m.keys.PublicKey,
	}
}

// Restore loads a previously persisted identity. The identity must still be NEW.
func (m *IdentityManager) Restore(rec IdentityRecord) error {
	if m.assigned {
		return ErrAlreadyRegistered
	}
	if len(rec.Username) == 0 || len(rec.Username) > protocol.UsernameSize {
		return ErrInvalidUsername
	}
	if len(rec.PrivateKey) == 0 {
		return fmt.Errorf("%w: identity has no private key", crypto.ErrInvalidKey)
	}

	m.username = rec.Username
	m.keys = crypto.KeyPair{PublicKey: rec.PublicKey, PrivateKey: rec.PrivateKey}
	if !rec.ID.IsZero() {
		m.id = rec.ID
		m.assigned = true
	}
	return nil
}
