package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
	"github.com/ZentaChain/relaytalk/pkg/protocol"
	"github.com/ZentaChain/relaytalk/pkg/session"
	"github.com/ZentaChain/relaytalk/pkg/storage"
	"github.com/ZentaChain/relaytalk/pkg/transport"
)

// startRelay serves one net.Pipe connection, answering every request with
// handle's payload
func startRelay(t *testing.T, handle func(*protocol.Request) protocol.ResponsePayload) transport.Transport {
	t.Helper()

	client, server := net.Pipe()
	go func() {
		for {
			req, err := protocol.ReadRequest(server)
			if err != nil {
				return
			}
			resp, err := protocol.NewResponse(handle(req))
			if err != nil {
				return
			}
			if err := protocol.WriteResponse(server, resp); err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() { server.Close() })
	return transport.NewConn(client, transport.Options{ReadTimeout: 2 * time.Second})
}

func cid(s string) protocol.ClientID {
	var id protocol.ClientID
	copy(id[:], s)
	return id
}

type testUser struct {
	id   protocol.ClientID
	name string
	keys crypto.KeyPair
}

func newTestUser(t *testing.T, id, name string) *testUser {
	t.Helper()
	keys, err := crypto.RSA{}.GenerateKeyPair()
	require.NoError(t, err)
	return &testUser{id: cid(id), name: name, keys: keys}
}

func newTestServer(t *testing.T, handle func(*protocol.Request) protocol.ResponsePayload, me *testUser, db *storage.MessageDB, config *Config) *Server {
	t.Helper()

	sess := session.New(startRelay(t, handle))
	if me != nil {
		require.NoError(t, sess.RestoreIdentity(session.IdentityRecord{
			Username:   me.name,
			ID:         me.id,
			PrivateKey: me.keys.PrivateKey,
			PublicKey:  me.keys.PublicKey,
		}))
	}

	if config == nil {
		config = DefaultConfig()
		config.RateLimit = 0
	}

	s := NewServer(sess, db, config, nil)
	t.Cleanup(func() {
		s.Close()
		sess.Close()
	})
	return s
}

func newTestDB(t *testing.T) *storage.MessageDB {
	t.Helper()
	db, err := storage.NewMessageDB(filepath.Join(t.TempDir(), "messages.db"), "secret")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func perform(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

type successEnvelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

func unreachable(*protocol.Request) protocol.ResponsePayload {
	return &protocol.ServerError{Text: "unexpected request"}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, unreachable, nil, nil, nil)

	w := perform(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestRegisterAndIdentity(t *testing.T) {
	assigned := cid("CID0000000000001")
	s := newTestServer(t, func(req *protocol.Request) protocol.ResponsePayload {
		if req.Header.Op != protocol.OpRegister {
			return &protocol.ServerError{}
		}
		return &protocol.RegistrationAck{ClientID: assigned}
	}, nil, nil, nil)

	w := perform(s, http.MethodGet, "/api/v1/identity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var before IdentityView
	decode(t, w, &before)
	assert.False(t, before.Registered)

	w = perform(s, http.MethodPost, "/api/v1/register", RegisterRequest{Username: "alice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var view IdentityView
	decode(t, w, &view)
	assert.True(t, view.Registered)
	assert.Equal(t, assigned.String(), view.ID)
	assert.Equal(t, "alice", view.Username)
	assert.Len(t, view.Fingerprint, 16)

	// second registration is a state error
	w = perform(s, http.MethodPost, "/api/v1/register", RegisterRequest{Username: "alice"})
	assert.Equal(t, http.StatusConflict, w.Code)
	var errResp ErrorResponse
	decode(t, w, &errResp)
	assert.Equal(t, "state", errResp.Code)
}

func TestRegisterRequiresUsername(t *testing.T) {
	s := newTestServer(t, unreachable, nil, nil, nil)

	w := perform(s, http.MethodPost, "/api/v1/register", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperationsBeforeRegister(t *testing.T) {
	s := newTestServer(t, unreachable, nil, nil, nil)

	for _, tc := range []struct {
		method, path string
		body         interface{}
	}{
		{http.MethodGet, "/api/v1/users", nil},
		{http.MethodPost, "/api/v1/messages/pull", nil},
		{http.MethodPost, "/api/v1/peers/" + cid("CID0000000000009").String() + "/key", nil},
	} {
		w := perform(s, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusConflict, w.Code, tc.path)
	}
}

func TestUsers(t *testing.T) {
	me := newTestUser(t, "CID0000000000001", "alice")
	s := newTestServer(t, func(req *protocol.Request) protocol.ResponsePayload {
		return &protocol.UserList{Users: []protocol.UserRecord{
			{ID: me.id, Username: "alice"},
			{ID: cid("CID0000000000002"), Username: "bob"},
		}}
	}, me, nil, nil)

	w := perform(s, http.MethodGet, "/api/v1/users", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp successEnvelope[[]PeerView]
	decode(t, w, &resp)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "bob", resp.Data[1].Username)
	assert.Equal(t, session.KeyUnknown.String(), resp.Data[1].KeyState)
}

func TestServerErrorIsBadGateway(t *testing.T) {
	me := newTestUser(t, "CID0000000000001", "alice")
	s := newTestServer(t, func(*protocol.Request) protocol.ResponsePayload {
		return &protocol.ServerError{Text: "database down"}
	}, me, nil, nil)

	w := perform(s, http.MethodGet, "/api/v1/users", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var errResp ErrorResponse
	decode(t, w, &errResp)
	assert.Equal(t, "server", errResp.Code)
	assert.Contains(t, errResp.Error, "database down")
}

func TestSendToUnknownUsername(t *testing.T) {
	me := newTestUser(t, "CID0000000000001", "alice")
	s := newTestServer(t, unreachable, me, nil, nil)

	w := perform(s, http.MethodPost, "/api/v1/messages", SendRequest{To: "nobody", Text: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendStoresHistory(t *testing.T) {
	me := newTestUser(t, "CID0000000000001", "alice")
	bob := newTestUser(t, "CID0000000000002", "bob")
	db := newTestDB(t)

	var mu sync.Mutex
	var nextID uint32
	s := newTestServer(t, func(req *protocol.Request) protocol.ResponsePayload {
		switch req.Header.Op {
		case protocol.OpGetPublicKey:
			return &protocol.PublicKeyAck{PeerID: bob.id, PublicKey: bob.keys.PublicKey}
		case protocol.OpSendMessage:
			mu.Lock()
			defer mu.Unlock()
			nextID++
			return &protocol.SendAck{MessageID: nextID}
		}
		return &protocol.ServerError{}
	}, me, db, nil)

	w := perform(s, http.MethodPost, "/api/v1/messages", SendRequest{To: bob.id.String(), Text: "hello bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sent SendResponse
	decode(t, w, &sent)
	assert.Equal(t, bob.id.String(), sent.To)
	assert.Equal(t, uint32(2), sent.MessageID) // 1 carried the key

	w = perform(s, http.MethodGet, "/api/v1/messages/"+bob.id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var history successEnvelope[[]HistoryView]
	decode(t, w, &history)
	require.Len(t, history.Data, 1)
	assert.True(t, history.Data[0].Outgoing)
	assert.Equal(t, "hello bob", history.Data[0].Text)
	assert.Equal(t, uint32(2), history.Data[0].MessageID)

	peers, err := db.LoadPeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, session.KeyEstablished, peers[0].State)

	w = perform(s, http.MethodPost, "/api/v1/peers/"+bob.id.String()+"/key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var peer PeerView
	decode(t, w, &peer)
	assert.Equal(t, session.KeyEstablished.String(), peer.KeyState)
	assert.Equal(t, crypto.Fingerprint(bob.keys.PublicKey), peer.Fingerprint)
}

func TestPullStoresAndReports(t *testing.T) {
	me := newTestUser(t, "CID0000000000001", "alice")
	bob := cid("CID0000000000002")
	db := newTestDB(t)

	key, err := crypto.AESGCM{}.GenerateKey()
	require.NoError(t, err)
	wrapped, err := crypto.RSA{}.Encrypt(me.keys.PublicKey, key)
	require.NoError(t, err)
	text, err := crypto.AESGCM{}.Encrypt(key, []byte("hi alice"))
	require.NoError(t, err)

	s := newTestServer(t, func(*protocol.Request) protocol.ResponsePayload {
		return &protocol.PulledBatch{Records: []protocol.PulledRecord{
			{SenderID: bob, MessageID: 7, Type: protocol.MessageTypeSymmetricKey, Content: wrapped},
			{SenderID: bob, MessageID: 8, Type: protocol.MessageTypeEncryptedText, Content: text},
			{SenderID: bob, MessageID: 9, Type: protocol.MessageType(42), Content: []byte("?")},
		}}
	}, me, db, nil)

	w := perform(s, http.MethodPost, "/api/v1/messages/pull", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp successEnvelope[[]MessageView]
	decode(t, w, &resp)
	require.Len(t, resp.Data, 3)
	assert.Empty(t, resp.Data[0].Error)
	assert.Equal(t, "hi alice", resp.Data[1].Text)
	assert.NotEmpty(t, resp.Data[2].Error)

	stored, err := db.GetConversation(bob, 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "hi alice", string(stored[0].Content))
	assert.Equal(t, storage.MessageStatusReceived, stored[0].Status)
	assert.Equal(t, storage.MessageStatusFailed, stored[1].Status)

	convs, err := db.GetConversations()
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount) // failed records are not unread

	// reading history clears the unread count
	w = perform(s, http.MethodGet, "/api/v1/messages/"+bob.String()+"?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	convs, err = db.GetConversations()
	require.NoError(t, err)
	assert.Zero(t, convs[0].UnreadCount)
}

func TestConversationsSearchAndPeer(t *testing.T) {
	me := newTestUser(t, "CID0000000000001", "alice")
	bob := cid("CID0000000000002")
	db := newTestDB(t)

	s := newTestServer(t, func(*protocol.Request) protocol.ResponsePayload {
		return &protocol.PulledBatch{Records: []protocol.PulledRecord{
			{SenderID: bob, MessageID: 1, Type: protocol.MessageTypePlainText, Content: []byte("lunch at noon?")},
			{SenderID: bob, MessageID: 2, Type: protocol.MessageTypePlainText, Content: []byte("or later")},
		}}
	}, me, db, nil)

	require.Equal(t, http.StatusOK, perform(s, http.MethodPost, "/api/v1/messages/pull", nil).Code)

	w := perform(s, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var convs successEnvelope[[]ConversationView]
	decode(t, w, &convs)
	require.Len(t, convs.Data, 1)
	assert.Equal(t, bob.String(), convs.Data[0].Peer)
	assert.Equal(t, "or later", convs.Data[0].LastMessage)
	assert.Equal(t, 2, convs.Data[0].UnreadCount)

	w = perform(s, http.MethodGet, "/api/v1/search?q=noon", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var found successEnvelope[[]HistoryView]
	decode(t, w, &found)
	require.Len(t, found.Data, 1)
	assert.Equal(t, bob.String(), found.Data[0].Peer)
	assert.Equal(t, "lunch at noon?", found.Data[0].Text)

	assert.Equal(t, http.StatusBadRequest, perform(s, http.MethodGet, "/api/v1/search", nil).Code)

	w = perform(s, http.MethodGet, "/api/v1/peers/"+bob.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var peer PeerView
	decode(t, w, &peer)
	assert.Equal(t, bob.String(), peer.ID)
	assert.Equal(t, session.KeyUnknown.String(), peer.KeyState)
	assert.NotNil(t, peer.AddedAt)
	assert.NotNil(t, peer.LastSeen)

	w = perform(s, http.MethodGet, "/api/v1/peers/"+cid("CID0000000000009").String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = perform(s, http.MethodGet, "/health", nil)
	var health struct {
		StoredMessages int `json:"stored_messages"`
	}
	decode(t, w, &health)
	assert.Equal(t, 2, health.StoredMessages)
}

func TestConversationsRequireHistory(t *testing.T) {
	s := newTestServer(t, unreachable, nil, nil, nil)

	assert.Equal(t, http.StatusNotImplemented, perform(s, http.MethodGet, "/api/v1/conversations", nil).Code)
	assert.Equal(t, http.StatusNotImplemented, perform(s, http.MethodGet, "/api/v1/search?q=x", nil).Code)
}

func TestHistoryValidation(t *testing.T) {
	me := newTestUser(t, "CID0000000000001", "alice")

	noDB := newTestServer(t, unreachable, me, nil, nil)
	w := perform(noDB, http.MethodGet, "/api/v1/messages/"+cid("x").String(), nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	withDB := newTestServer(t, unreachable, me, newTestDB(t), nil)
	w = perform(withDB, http.MethodGet, "/api/v1/messages/"+cid("x").String()+"?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = perform(withDB, http.MethodGet, "/api/v1/messages/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, unreachable, nil, nil, nil)

	w := perform(s, http.MethodOptions, "/api/v1/users", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	config := DefaultConfig()
	config.RateLimit = 2
	s := newTestServer(t, unreachable, nil, nil, config)

	assert.Equal(t, http.StatusOK, perform(s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, perform(s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, perform(s, http.MethodGet, "/health", nil).Code)
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))

	now = now.Add(2 * time.Minute)
	rl.prune()
	assert.Empty(t, rl.requests)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind session.Kind
		want int
	}{
		{session.KindState, http.StatusConflict},
		{session.KindNotFound, http.StatusNotFound},
		{session.KindServer, http.StatusBadGateway},
		{session.KindProtocol, http.StatusBadGateway},
		{session.KindTransport, http.StatusServiceUnavailable},
		{session.KindCrypto, http.StatusInternalServerError},
		{session.KindStorage, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		err := &session.Error{Kind: tt.kind, Op: "test"}
		assert.Equal(t, tt.want, statusFor(err), tt.kind.String())
	}

	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(ErrStopped))
}

func TestWorkerSerializes(t *testing.T) {
	w := newWorker()
	go w.run()
	defer w.stop()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.do(context.Background(), func(context.Context) error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestWorkerStopped(t *testing.T) {
	w := newWorker()
	w.stop()
	w.stop()

	err := w.do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := newWorker()
	err = blocked.do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamAfterClose(t *testing.T) {
	s := newTestServer(t, unreachable, nil, nil, nil)
	s.Close()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection should be closed, not left hanging")
}

func TestStreamReceivesBroadcast(t *testing.T) {
	s := newTestServer(t, unreachable, nil, nil, nil)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	frames := make(chan StreamEvent, 8)
	go func() {
		for {
			var ev StreamEvent
			if err := conn.ReadJSON(&ev); err != nil {
				close(frames)
				return
			}
			frames <- ev
		}
	}()

	views := []MessageView{{From: cid("CID0000000000002").String(), MessageID: 1, Type: "encrypted-text", Text: "hi"}}

	// the subscriber attaches asynchronously after the handshake
	require.Eventually(t, func() bool {
		s.hub.Broadcast(views)
		select {
		case ev := <-frames:
			return ev.Type == "messages" && len(ev.Messages) == 1 && ev.Messages[0].Text == "hi"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, unreachable, nil, nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
