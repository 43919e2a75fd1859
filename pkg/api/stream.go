package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only send control frames.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bridge listens on loopback by default and carries no cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamEvent is one frame pushed to subscribers
type StreamEvent struct {
	Type     string        `json:"type"`
	Messages []MessageView `json:"messages"`
}

// subscriber is one websocket connection on the stream endpoint
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans pulled messages out to stream subscribers
type Hub struct {
	subscribers map[*subscriber]bool
	register    chan *subscriber
	unregister  chan *subscriber
	broadcast   chan []byte
	done        chan struct{}
	logger      *zap.Logger
}

// NewHub creates a hub. Subscribers wait for Run and are turned away once it
// has returned.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan []byte, 16),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run owns the subscriber set until ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for sub := range h.subscribers {
				close(sub.send)
				delete(h.subscribers, sub)
			}
			return

		case sub := <-h.register:
			h.subscribers[sub] = true
			h.logger.Debug("stream subscriber attached", zap.Int("subscribers", len(h.subscribers)))

		case sub := <-h.unregister:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}

		case frame := <-h.broadcast:
			for sub := range h.subscribers {
				select {
				case sub.send <- frame:
				default:
					// slow subscriber
					close(sub.send)
					delete(h.subscribers, sub)
				}
			}
		}
	}
}

// Broadcast queues messages for every subscriber. It drops the frame when
// the hub is backed up rather than stall the caller.
func (h *Hub) Broadcast(messages []MessageView) {
	frame, err := json.Marshal(StreamEvent{Type: "messages", Messages: messages})
	if err != nil {
		h.logger.Error("failed to encode stream event", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("stream backlog full, frame dropped", zap.Int("messages", len(messages)))
	}
}

func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, 64), hub: s.hub}

	select {
	case s.hub.register <- sub:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go sub.writePump()
	go sub.readPump()
}

// readPump discards inbound frames and detects the close
func (sub *subscriber) readPump() {
	defer func() {
		select {
		case sub.hub.unregister <- sub:
		case <-sub.hub.done:
		}
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(maxMessageSize)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps frames from the hub to the websocket connection
func (sub *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
