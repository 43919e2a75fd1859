package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
	"github.com/ZentaChain/relaytalk/pkg/protocol"
	"github.com/ZentaChain/relaytalk/pkg/session"
	"github.com/ZentaChain/relaytalk/pkg/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// IdentityView describes the local user
type IdentityView struct {
	Registered  bool   `json:"registered"`
	ID          string `json:"id,omitempty"`
	Username    string `json:"username,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// PeerView describes one cached peer. Key material is never exposed.
type PeerView struct {
	ID          string     `json:"id"`
	Username    string     `json:"username,omitempty"`
	KeyState    string     `json:"key_state"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	AddedAt     *time.Time `json:"added_at,omitempty"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// ConversationView summarises the history with one peer
type ConversationView struct {
	Peer        string    `json:"peer"`
	Username    string    `json:"username,omitempty"`
	LastMessage string    `json:"last_message"`
	LastTime    time.Time `json:"last_time"`
	UnreadCount int       `json:"unread_count"`
}

// MessageView is one pulled record
type MessageView struct {
	From      string `json:"from"`
	FromName  string `json:"from_name,omitempty"`
	MessageID uint32 `json:"message_id"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HistoryView is one stored message
type HistoryView struct {
	ID        int64     `json:"id"`
	Peer      string    `json:"peer,omitempty"`
	MessageID uint32    `json:"message_id"`
	Outgoing  bool      `json:"outgoing"`
	Text      string    `json:"text"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// RegisterRequest is the body of POST /api/v1/register
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
}

// SendRequest is the body of POST /api/v1/messages. To is a client id or a
// known username.
type SendRequest struct {
	To   string `json:"to" binding:"required"`
	Text string `json:"text" binding:"required"`
}

// SendResponse reports a relayed message
type SendResponse struct {
	To        string `json:"to"`
	MessageID uint32 `json:"message_id"`
}

func newPeerView(p session.PeerRecord) PeerView {
	v := PeerView{
		ID:       p.ID.String(),
		Username: p.Username,
		KeyState: p.State.String(),
	}
	if len(p.PublicKey) > 0 {
		v.Fingerprint = crypto.Fingerprint(p.PublicKey)
	}
	return v
}

func newMessageView(r session.Received) MessageView {
	v := MessageView{
		From:      r.From.String(),
		FromName:  r.FromName,
		MessageID: r.MessageID,
		Type:      r.Type.String(),
		Text:      r.Text,
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if s.db != nil {
		if n, err := s.db.CountMessages(); err == nil {
			resp["stored_messages"] = n
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIdentity(c *gin.Context) {
	var view IdentityView
	err := s.worker.do(c.Request.Context(), func(context.Context) error {
		view = s.identityView()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) identityView() IdentityView {
	if !s.session.Registered() {
		return IdentityView{}
	}
	rec := s.session.Identity()
	return IdentityView{
		Registered:  true,
		ID:          rec.ID.String(),
		Username:    rec.Username,
		Fingerprint: crypto.Fingerprint(rec.PublicKey),
	}
}

func (s *Server) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	var view IdentityView
	err := s.worker.do(c.Request.Context(), func(ctx context.Context) error {
		if _, err := s.session.Register(ctx, req.Username); err != nil {
			return err
		}
		view = s.identityView()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, view)
}

func (s *Server) handleUsers(c *gin.Context) {
	var views []PeerView
	err := s.worker.do(c.Request.Context(), func(ctx context.Context) error {
		users, err := s.session.ListUsers(ctx)
		if err != nil {
			return err
		}
		views = make([]PeerView, 0, len(users))
		for _, u := range users {
			views = append(views, newPeerView(u))
		}
		s.savePeers()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: views})
}

func (s *Server) handleKeyExchange(c *gin.Context) {
	var view PeerView
	err := s.worker.do(c.Request.Context(), func(ctx context.Context) error {
		peer, err := s.resolve(c.Param("peer"))
		if err != nil {
			return err
		}
		if _, err := s.session.EnsureSymmetricKey(ctx, peer); err != nil {
			return err
		}
		rec, _ := s.session.Peers().Get(peer)
		view = newPeerView(rec)
		s.savePeers()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) handleSend(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	var resp SendResponse
	err := s.worker.do(c.Request.Context(), func(ctx context.Context) error {
		peer, err := s.resolve(req.To)
		if err != nil {
			return err
		}
		msgID, err := s.session.SendText(ctx, peer, req.Text)
		if err != nil {
			return err
		}
		resp = SendResponse{To: peer.String(), MessageID: msgID}
		if s.db != nil {
			if err := s.db.SaveSent(peer, msgID, req.Text); err != nil {
				s.logger.Warn("failed to store message", zap.Stringer("peer", peer), zap.Error(err))
			}
		}
		s.savePeers()
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePull(c *gin.Context) {
	views, err := s.pull(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: views})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "message history is disabled"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			badRequest(c, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
			return
		}
		limit = n
	}

	var views []HistoryView
	err := s.worker.do(c.Request.Context(), func(context.Context) error {
		peer, err := s.resolve(c.Param("peer"))
		if err != nil {
			return err
		}
		msgs, err := s.db.GetConversation(peer, limit)
		if err != nil {
			return err
		}
		views = make([]HistoryView, 0, len(msgs))
		for _, m := range msgs {
			views = append(views, newHistoryView(m))
		}
		return s.db.MarkConversationRead(peer)
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: views})
}

func (s *Server) handlePeer(c *gin.Context) {
	var view PeerView
	err := s.worker.do(c.Request.Context(), func(context.Context) error {
		peer, err := s.resolve(c.Param("peer"))
		if err != nil {
			return err
		}

		rec, known := s.session.Peers().Get(peer)
		view = newPeerView(rec)
		view.ID = peer.String()

		if s.db != nil {
			contact, err := s.db.GetContact(peer)
			switch {
			case err == nil:
				known = true
				if view.Username == "" {
					view.Username = contact.Username
				}
				added := time.UnixMilli(contact.AddedAt).UTC()
				seen := time.UnixMilli(contact.LastSeen).UTC()
				view.AddedAt, view.LastSeen = &added, &seen
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}
		}

		if !known {
			return errPeerNotFound
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) handleConversations(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "message history is disabled"})
		return
	}

	var views []ConversationView
	err := s.worker.do(c.Request.Context(), func(context.Context) error {
		convs, err := s.db.GetConversations()
		if err != nil {
			return err
		}
		views = make([]ConversationView, 0, len(convs))
		for _, conv := range convs {
			rec, _ := s.session.Peers().Get(conv.PeerID)
			views = append(views, ConversationView{
				Peer:        conv.PeerID.String(),
				Username:    rec.Username,
				LastMessage: conv.LastMessage,
				LastTime:    time.UnixMilli(conv.LastTimestamp).UTC(),
				UnreadCount: conv.UnreadCount,
			})
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: views})
}

func (s *Server) handleSearch(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "message history is disabled"})
		return
	}

	query := c.Query("q")
	if query == "" {
		badRequest(c, "q is required")
		return
	}

	found, err := s.db.SearchMessages(query, defaultHistoryLimit)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]HistoryView, 0, len(found))
	for _, m := range found {
		views = append(views, newHistoryView(m))
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: views})
}

func newHistoryView(m *storage.StoredMessage) HistoryView {
	return HistoryView{
		ID:        m.ID,
		Peer:      m.PeerID.String(),
		MessageID: m.RelayID,
		Outgoing:  m.IsOutgoing,
		Text:      string(m.Content),
		Status:    string(m.Status),
		Error:     m.Error,
		Time:      time.UnixMilli(m.Timestamp).UTC(),
	}
}

// pull fetches queued messages, records them and pushes them to stream
// subscribers
func (s *Server) pull(ctx context.Context) ([]MessageView, error) {
	var views []MessageView
	err := s.worker.do(ctx, func(ctx context.Context) error {
		received, err := s.session.PullMessages(ctx)
		if err != nil {
			return err
		}
		views = make([]MessageView, 0, len(received))
		for _, r := range received {
			views = append(views, newMessageView(r))
			s.recordReceived(r)
		}
		s.savePeers()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(views) > 0 {
		s.hub.Broadcast(views)
	}
	return views, nil
}

// poll pulls every interval until ctx ends. Runs before registration are
// skipped quietly.
func (s *Server) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		views, err := s.pull(ctx)
		switch {
		case err == nil:
			if len(views) > 0 {
				s.logger.Debug("poll delivered messages", zap.Int("count", len(views)))
			}
		case session.KindOf(err) == session.KindState, ctx.Err() != nil:
		default:
			s.logger.Warn("poll failed", zap.Error(err))
		}
	}
}

// resolve accepts a client id or a username. Must run on the worker.
func (s *Server) resolve(raw string) (protocol.ClientID, error) {
	if id, err := protocol.ParseClientID(raw); err == nil {
		return id, nil
	}
	return s.session.ResolvePeer(raw)
}

func (s *Server) recordReceived(r session.Received) {
	if s.db == nil {
		return
	}
	if err := s.db.SaveReceived(r); err != nil {
		s.logger.Warn("failed to store message", zap.Stringer("peer", r.From), zap.Error(err))
	}
}

// savePeers persists the key store. Must run on the worker.
func (s *Server) savePeers() {
	if s.db == nil {
		return
	}
	if err := s.db.SavePeers(s.session.Peers().Snapshot()); err != nil {
		s.logger.Warn("failed to store peers", zap.Error(err))
	}
}
