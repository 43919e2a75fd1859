// Package api exposes a Session over a local HTTP bridge
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ZentaChain/relaytalk/pkg/session"
	"github.com/ZentaChain/relaytalk/pkg/storage"
)

// Server is the HTTP bridge. Every Session operation runs on one worker
// goroutine, so handlers never touch the Session directly.
type Server struct {
	session    *session.Session
	db         *storage.MessageDB // optional message history
	worker     *worker
	hub        *Hub
	router     *gin.Engine
	limiter    *RateLimiter
	config     *Config
	logger     *zap.Logger
	httpServer *http.Server
	stopHub    context.CancelFunc
}

// Config holds server configuration
type Config struct {
	Listen       string
	EnableCORS   bool
	RateLimit    int           // Requests per minute, 0 disables
	PollInterval time.Duration // Background pull period, 0 disables
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		EnableCORS:   true,
		RateLimit:    120,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates a bridge for sess. db may be nil, which disables the
// history endpoint and persistence of sent and pulled messages.
func NewServer(sess *session.Session, db *storage.MessageDB, config *Config, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		session: sess,
		db:      db,
		worker:  newWorker(),
		hub:     NewHub(logger),
		router:  gin.New(),
		config:  config,
		logger:  logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	// The hub runs until Close, with or without Serve.
	hubCtx, stopHub := context.WithCancel(context.Background())
	s.stopHub = stopHub
	go s.hub.Run(hubCtx)

	go s.worker.run()
	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}

	if s.config.RateLimit > 0 {
		s.limiter = NewRateLimiter(s.config.RateLimit)
		s.router.Use(RateLimitMiddleware(s.limiter))
	}

	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/identity", s.handleIdentity)
		v1.POST("/register", s.handleRegister)
		v1.GET("/users", s.handleUsers)
		v1.GET("/peers/:peer", s.handlePeer)
		v1.POST("/peers/:peer/key", s.handleKeyExchange)
		v1.GET("/conversations", s.handleConversations)
		v1.GET("/search", s.handleSearch)

		messages := v1.Group("/messages")
		{
			messages.POST("", s.handleSend)
			messages.POST("/pull", s.handlePull)
			messages.GET("/:peer", s.handleHistory)
		}

		v1.GET("/stream", s.handleStream)
	}

	s.router.GET("/health", s.handleHealth)
}

// Handler returns the routed http.Handler
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if s.limiter != nil {
		go s.limiter.cleanup(ctx)
	}
	if s.config.PollInterval > 0 {
		go s.poll(ctx, s.config.PollInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http bridge listening", zap.String("address", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http bridge")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown does not touch hijacked websocket connections
	s.stopHub()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Close stops the stream hub and the worker. Requests still queued fail
// with ErrStopped.
func (s *Server) Close() {
	s.stopHub()
	s.worker.stop()
}
