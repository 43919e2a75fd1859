package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
	"github.com/ZentaChain/relaytalk/pkg/protocol"
	"github.com/ZentaChain/relaytalk/pkg/transport"
)

// scriptedRelay plays the server side of a net.Pipe. handle returns the raw
// response bytes for a request, or nil to stay silent.
type scriptedRelay struct {
	conn   net.Conn
	handle func(req *protocol.Request) []byte

	mu       sync.Mutex
	requests []*protocol.Request
}

func (r *scriptedRelay) serve() {
	for {
		req, err := protocol.ReadRequest(r.conn)
		if err != nil {
			return
		}

		r.mu.Lock()
		r.requests = append(r.requests, req)
		r.mu.Unlock()

		if raw := r.handle(req); raw != nil {
			if _, err := r.conn.Write(raw); err != nil {
				return
			}
		}
	}
}

func (r *scriptedRelay) received() []*protocol.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Request(nil), r.requests...)
}

// countingTransport records how many bytes a session wrote
type countingTransport struct {
	transport.Transport
	mu   sync.Mutex
	sent int
}

func (c *countingTransport) Send(b []byte) error {
	c.mu.Lock()
	c.sent += len(b)
	c.mu.Unlock()
	return c.Transport.Send(b)
}

func (c *countingTransport) bytesSent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func newTestSession(t *testing.T, readTimeout time.Duration, handle func(*protocol.Request) []byte, opts ...Option) (*Session, *scriptedRelay, *countingTransport) {
	t.Helper()

	client, server := net.Pipe()
	relay := &scriptedRelay{conn: server, handle: handle}
	go relay.serve()

	counting := &countingTransport{Transport: transport.NewConn(client, transport.Options{ReadTimeout: readTimeout})}
	s := New(counting, opts...)

	t.Cleanup(func() {
		s.Close()
		server.Close()
	})
	return s, relay, counting
}

func respond(t *testing.T, payload protocol.ResponsePayload) []byte {
	t.Helper()
	resp, err := protocol.NewResponse(payload)
	require.NoError(t, err)
	return resp.Encode()
}

func rawResponse(code protocol.ResponseCode, payload []byte) []byte {
	h := &protocol.ResponseHeader{Version: 2, Code: code, PayloadSize: uint32(len(payload))}
	return append(h.Encode(), payload...)
}

func id(s string) protocol.ClientID {
	var cid protocol.ClientID
	copy(cid[:], s)
	return cid
}

// testPeer is a remote user with its own key pair
type testPeer struct {
	id   protocol.ClientID
	name string
	keys crypto.KeyPair
}

func newTestPeer(t *testing.T, cid, name string) *testPeer {
	t.Helper()
	keys, err := crypto.RSA{}.GenerateKeyPair()
	require.NoError(t, err)
	return &testPeer{id: id(cid), name: name, keys: keys}
}

// register puts s into REGISTERED without network traffic
func register(t *testing.T, s *Session, cid, name string) *testPeer {
	t.Helper()
	me := newTestPeer(t, cid, name)
	require.NoError(t, s.RestoreIdentity(IdentityRecord{
		Username:   name,
		ID:         me.id,
		PrivateKey: me.keys.PrivateKey,
		PublicKey:  me.keys.PublicKey,
	}))
	return me
}

// wrapKey builds the content of a type 2 record from peer to me
func wrapKey(t *testing.T, me *testPeer, key []byte) []byte {
	t.Helper()
	wrapped, err := crypto.RSA{}.Encrypt(me.keys.PublicKey, key)
	require.NoError(t, err)
	return wrapped
}

func seal(t *testing.T, key []byte, text string) []byte {
	t.Helper()
	ct, err := crypto.AESGCM{}.Encrypt(key, []byte(text))
	require.NoError(t, err)
	return ct
}

func silent(*protocol.Request) []byte { return nil }

type memoryStore struct {
	saved []IdentityRecord
	err   error
}

func (m *memoryStore) SaveIdentity(rec IdentityRecord) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, rec)
	return nil
}

type mapDirectory map[string]protocol.ClientID

func (d mapDirectory) LookupID(username string) (protocol.ClientID, bool, error) {
	cid, ok := d[username]
	return cid, ok, nil
}
