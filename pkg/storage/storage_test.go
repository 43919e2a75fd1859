package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/relaytalk/pkg/protocol"
	"github.com/ZentaChain/relaytalk/pkg/session"
)

func peerID(s string) protocol.ClientID {
	var id protocol.ClientID
	copy(id[:], s)
	return id
}

func openTestDB(t *testing.T) (*MessageDB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.db")
	db, err := NewMessageDB(path, "correct horse")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestMessageDBPassword(t *testing.T) {
	db, path := openTestDB(t)
	require.NoError(t, db.SaveMessage(&StoredMessage{
		PeerID:  peerID("CID0000000000002"),
		Type:    protocol.MessageTypeEncryptedText,
		Content: []byte("persisted"),
		Status:  MessageStatusSent,
	}))
	require.NoError(t, db.Close())

	_, err := NewMessageDB(path, "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	reopened, err := NewMessageDB(path, "correct horse")
	require.NoError(t, err)
	defer reopened.Close()

	msgs, err := reopened.GetConversation(peerID("CID0000000000002"), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "persisted", string(msgs[0].Content))
}

func TestMessageDBEncryptsAtRest(t *testing.T) {
	db, path := openTestDB(t)
	secret := []byte("very-secret-plaintext-marker")

	require.NoError(t, db.SaveMessage(&StoredMessage{
		PeerID:  peerID("CID0000000000002"),
		Type:    protocol.MessageTypeEncryptedText,
		Content: secret,
		Status:  MessageStatusReceived,
	}))
	require.NoError(t, db.Close())

	for _, name := range []string{path, path + "-wal"} {
		raw, err := os.ReadFile(name)
		if os.IsNotExist(err) {
			continue
		}
		require.NoError(t, err)
		assert.False(t, bytes.Contains(raw, secret), "%s contains plaintext", name)
	}
}

func TestMessageDBConversation(t *testing.T) {
	db, _ := openTestDB(t)
	bob := peerID("CID0000000000002")
	carol := peerID("CID0000000000003")

	msgs := []*StoredMessage{
		{PeerID: bob, RelayID: 1, Type: protocol.MessageTypeEncryptedText, Content: []byte("one"), Timestamp: 1000, IsOutgoing: true, Status: MessageStatusSent},
		{PeerID: bob, RelayID: 2, Type: protocol.MessageTypeEncryptedText, Content: []byte("two"), Timestamp: 2000, Status: MessageStatusReceived},
		{PeerID: carol, RelayID: 3, Type: protocol.MessageTypePlainText, Content: []byte("hey"), Timestamp: 2500, Status: MessageStatusReceived},
		{PeerID: bob, RelayID: 4, Type: protocol.MessageTypeEncryptedText, Content: []byte{}, Timestamp: 3000, Status: MessageStatusFailed, Error: "no symmetric key for peer"},
	}
	for _, m := range msgs {
		require.NoError(t, db.SaveMessage(m))
		assert.NotZero(t, m.ID)
	}

	history, err := db.GetConversation(bob, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", string(history[0].Content))
	assert.True(t, history[0].IsOutgoing)
	assert.Equal(t, uint32(2), history[1].RelayID)
	assert.Equal(t, MessageStatusFailed, history[2].Status)
	assert.Equal(t, "no symmetric key for peer", history[2].Error)

	latest, err := db.GetConversation(bob, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "two", string(latest[0].Content))

	n, err := db.CountMessages()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	found, err := db.SearchMessages("he", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, carol, found[0].PeerID)
	assert.Equal(t, protocol.MessageTypePlainText, found[0].Type)
	assert.Equal(t, msgs[2].ID, found[0].ID)
}

func TestMessageDBConversations(t *testing.T) {
	db, _ := openTestDB(t)
	bob := peerID("CID0000000000002")

	require.NoError(t, db.SaveMessage(&StoredMessage{PeerID: bob, Type: protocol.MessageTypeSymmetricKey, Content: []byte("k"), Timestamp: 10, Status: MessageStatusReceived}))
	require.NoError(t, db.SaveMessage(&StoredMessage{PeerID: bob, Type: protocol.MessageTypeEncryptedText, Content: []byte("hello"), Timestamp: 20, Status: MessageStatusReceived}))
	require.NoError(t, db.SaveMessage(&StoredMessage{PeerID: bob, Type: protocol.MessageTypeEncryptedText, Content: []byte("again"), Timestamp: 30, Status: MessageStatusReceived}))

	convs, err := db.GetConversations()
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, bob, convs[0].PeerID)
	assert.Equal(t, "again", convs[0].LastMessage)
	assert.Equal(t, 2, convs[0].UnreadCount)

	require.NoError(t, db.MarkConversationRead(bob))
	convs, _ = db.GetConversations()
	assert.Zero(t, convs[0].UnreadCount)
}

func TestMessageDBPeers(t *testing.T) {
	db, _ := openTestDB(t)

	store := session.NewPeerKeyStore()
	store.MergeUser(peerID("id1"), "bob")
	store.SetPublicKey(peerID("id2"), bytes.Repeat([]byte{2}, 160))
	store.MergeUser(peerID("id2"), "carol")
	store.InstallSymmetricKey(peerID("id3"), bytes.Repeat([]byte{3}, 32))

	require.NoError(t, db.SavePeers(store.Snapshot()))

	loaded, err := db.LoadPeers()
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	assert.Equal(t, store.Snapshot(), loaded)

	id, ok, err := db.LookupID("carol")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, peerID("id2"), id)

	_, ok, err = db.LookupID("nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessageDBSavePeersNeverRegresses(t *testing.T) {
	db, _ := openTestDB(t)
	bob := peerID("id1")
	key := bytes.Repeat([]byte{9}, 32)

	require.NoError(t, db.SaveContact(&Contact{PeerID: bob, Username: "bob", SymmetricKey: key, KeyState: session.KeyEstablished}))
	require.NoError(t, db.SavePeers([]session.PeerRecord{{ID: bob, State: session.KeyUnknown}}))

	c, err := db.GetContact(bob)
	require.NoError(t, err)
	assert.Equal(t, "bob", c.Username)
	assert.Equal(t, key, c.SymmetricKey)
	assert.Equal(t, session.KeyEstablished, c.KeyState)

	_, err = db.GetContact(peerID("id2"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInfoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "my.info")
	f := NewInfoFile(path)

	_, err := f.Load()
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, ok, err := f.LookupID("alice")
	require.NoError(t, err)
	assert.False(t, ok)

	alice := session.IdentityRecord{
		Username:   "alice",
		ID:         peerID("CID0000000000001"),
		PrivateKey: []byte{1, 2, 3, 4},
		PublicKey:  bytes.Repeat([]byte{5}, 160),
	}
	require.NoError(t, f.SaveIdentity(alice))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimRight(raw, "\n"), []byte("\n"))
	require.Len(t, lines, 4)
	assert.Equal(t, "alice", string(lines[0]))
	assert.Equal(t, alice.ID.String(), string(lines[1]))
	assert.Equal(t, "AQIDBA==", string(lines[2]))

	loaded, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, alice, loaded)

	bob := session.IdentityRecord{Username: "bob", ID: peerID("CID0000000000002"), PrivateKey: []byte{9}, PublicKey: []byte{8}}
	require.NoError(t, f.SaveIdentity(bob))

	all, err := f.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "bob", all[0].Username)

	id, ok, err := f.LookupID("alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, alice.ID, id)
}

func TestInfoFileMalformed(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"short record", "alice\nCID\n"},
		{"bad id", "alice\nnot-an-id\nAQID\nAQID\n"},
		{"bad key", "alice\n" + peerID("CID0000000000001").String() + "\n!!!\nAQID\n"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			_, err := NewInfoFile(path).Load()
			assert.ErrorIs(t, err, ErrMalformedInfo)
		})
	}
}
