package session

import (
	"bytes"

	"github.com/ZentaChain/relaytalk/pkg/protocol"
)

// KeyState tracks key establishment with one peer. It only moves forward.
type KeyState int

const (
	KeyUnknown KeyState = iota
	KeyPublicKnown
	KeyEstablished
)

func (s KeyState) String() string {
	switch s {
	case KeyUnknown:
		return "unknown"
	case KeyPublicKnown:
		return "public-key-known"
	case KeyEstablished:
		return "key-established"
	default:
		return "invalid"
	}
}

// PeerRecord is the cached key material for one peer
type PeerRecord struct {
	ID           protocol.ClientID
	Username     string
	PublicKey    []byte
	SymmetricKey []byte
	State        KeyState
}

// PeerKeyStore caches per-peer keys for one session. Records are created on
// first reference and never evicted. It has no internal locking.
type PeerKeyStore struct {
	peers map[protocol.ClientID]*PeerRecord
	order []protocol.ClientID
}

// NewPeerKeyStore returns an empty store
func NewPeerKeyStore() *PeerKeyStore {
	return &PeerKeyStore{peers: make(map[protocol.ClientID]*PeerRecord)}
}

// Get returns a copy of the record for id
func (s *PeerKeyStore) Get(id protocol.ClientID) (PeerRecord, bool) {
	p, ok := s.peers[id]
	if !ok {
		return PeerRecord{ID: id}, false
	}
	return p.clone(), true
}

// Lookup finds a peer by username
func (s *PeerKeyStore) Lookup(username string) (protocol.ClientID, bool) {
	for _, id := range s.order {
		if s.peers[id].Username == username {
			return id, true
		}
	}
	return protocol.ClientID{}, false
}

// Touch creates the record for id if it does not exist yet
func (s *PeerKeyStore) Touch(id protocol.ClientID) PeerRecord {
	return s.touch(id).clone()
}

// MergeUser records a username from a user list. Keys and state are kept.
func (s *PeerKeyStore) MergeUser(id protocol.ClientID, username string) PeerRecord {
	p := s.touch(id)
	p.Username = username
	return p.clone()
}

// SetPublicKey caches a peer's public key
func (s *PeerKeyStore) SetPublicKey(id protocol.ClientID, key []byte) {
	p := s.touch(id)
	p.PublicKey = bytes.Clone(key)
	p.advance(KeyPublicKnown)
}

// InstallSymmetricKey caches a symmetric key, replacing any earlier one
func (s *PeerKeyStore) InstallSymmetricKey(id protocol.ClientID, key []byte) {
	p := s.touch(id)
	p.SymmetricKey = bytes.Clone(key)
	p.advance(KeyEstablished)
}

// Len returns the number of known peers
func (s *PeerKeyStore) Len() int { return len(s.order) }

// Snapshot returns copies of all records in first-seen order
func (s *PeerKeyStore) Snapshot() []PeerRecord {
	out := make([]PeerRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.peers[id].clone())
	}
	return out
}

// Restore merges persisted records. State never moves backwards and a
// restored field never clears one already cached.
func (s *PeerKeyStore) Restore(records []PeerRecord) {
	for _, r := range records {
		p := s.touch(r.ID)
		if r.Username != "" {
			p.Username = r.Username
		}
		if len(r.PublicKey) > 0 {
			p.PublicKey = bytes.Clone(r.PublicKey)
		}
		switch {
		case r.State == KeyEstablished && len(r.SymmetricKey) > 0:
			p.SymmetricKey = bytes.Clone(r.SymmetricKey)
			p.advance(KeyEstablished)
		case r.State >= KeyPublicKnown && len(p.PublicKey) > 0:
			p.advance(KeyPublicKnown)
		}
	}
}

func (s *PeerKeyStore) touch(id protocol.ClientID) *PeerRecord {
	p, ok := s.peers[id]
	if !ok {
		p = &PeerRecord{ID: id}
		s.peers[id] = p
		s.order = append(s.order, id)
	}
	return p
}

func (p *PeerRecord) advance(state KeyState) {
	if state > p.State {
		p.State = state
	}
}

func (p *PeerRecord) clone() PeerRecord {
	c := *p
	c.PublicKey = bytes.Clone(p.PublicKey)
	c.SymmetricKey = bytes.Clone(p.SymmetricKey)
	return c
}
