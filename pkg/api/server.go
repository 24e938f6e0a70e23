// Package api exposes the node's transport operations over HTTP for UI
// and storage collaborators.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shadowghost/core/pkg/discovery"
	"github.com/shadowghost/core/pkg/network"
)

// Server is the HTTP surface over one node.
type Server struct {
	manager      *network.Manager
	disc         *discovery.Discovery
	router       *gin.Engine
	port         int
	readTimeout  time.Duration
	writeTimeout time.Duration
	httpServer   *http.Server
	limiter      *RateLimiter
}

// Config holds server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8090,
		EnableCORS:   true,
		RateLimit:    100,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates the HTTP API server around a manager and an optional
// discovery instance.
func NewServer(manager *network.Manager, disc *discovery.Discovery, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}

	server := &Server{
		manager:      manager,
		disc:         disc,
		router:       router,
		port:         config.Port,
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
		limiter:      NewRateLimiter(config.RateLimit),
	}

	server.setupMiddleware(config)
	server.setupRoutes()
	return server
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(RateLimitMiddleware(s.limiter))
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/events", s.handleEvents)

		v1.GET("/peers", s.handlePeers)
		v1.POST("/contacts", s.handleAddContact)
		v1.POST("/contacts/:id/block", s.handleBlockContact)
		v1.DELETE("/contacts/:id/block", s.handleUnblockContact)

		v1.GET("/chats", s.handleChats)
		v1.GET("/chats/:contact", s.handleChatMessages)
		v1.POST("/messages", s.handleSendMessage)
		v1.POST("/ping/:contact", s.handlePingContact)

		disc := v1.Group("/discovery")
		{
			disc.GET("/peers", s.handleDiscoveryPeers)
			disc.GET("/statistics", s.handleDiscoveryStatistics)
			disc.POST("/announce", s.handleAnnounce)
		}
	}

	// Health check endpoint (outside versioning)
	s.router.GET("/health", s.handleHealth)
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("🌐 HTTP API server starting on port %d...\n", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }
