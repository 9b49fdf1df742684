// Package server exposes the magpied daemon's HTTP surface: health and
// metrics endpoints, the session REST API, and the WebSocket conversation
// gateway.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/magpievoice/magpie/memory"
	"github.com/magpievoice/magpie/metrics"
	"github.com/magpievoice/magpie/promptstore"
	"github.com/magpievoice/magpie/session"
	"github.com/magpievoice/magpie/transcript"
)

// Server is the daemon's HTTP server.
type Server struct {
	engine *gin.Engine
	http   *http.Server

	sessions    *session.Manager
	transcripts *transcript.Store
	journal     *memory.SQLiteJournal
	prompts     promptstore.Store
	gateway     *Gateway

	logger    zerolog.Logger
	startedAt time.Time
}

// Config holds server configuration options.
type Config struct {
	Listen string
	Logger zerolog.Logger
}

// New creates the HTTP server and registers all routes.
func New(cfg Config, sessions *session.Manager, transcripts *transcript.Store, journal *memory.SQLiteJournal, prompts promptstore.Store, gateway *Gateway) *Server {
	s := &Server{
		sessions:    sessions,
		transcripts: transcripts,
		journal:     journal,
		prompts:     prompts,
		gateway:     gateway,
		logger:      cfg.Logger.With().Str("component", "http-server").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger(s.logger), httpMetrics())

	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/api/v1")
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id/transcript", s.handleTranscript)
	v1.GET("/sessions/:id/prompt", s.handlePrompt)
	v1.GET("/sessions/:id/tasks", s.handleTasks)

	s.engine.GET("/ws/converse", s.gateway.Handle)

	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve starts the server on the given listener and blocks until shutdown.
func (s *Server) Serve(listener net.Listener) error {
	s.startedAt = time.Now()
	s.logger.Info().Str("address", listener.Addr().String()).Msg("Starting HTTP server")
	if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe starts the server on its configured address and blocks
// until shutdown.
func (s *Server) ListenAndServe() error {
	s.startedAt = time.Now()
	s.logger.Info().Str("address", s.http.Addr).Msg("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, letting in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Gracefully stopping HTTP server")
	return s.http.Shutdown(ctx)
}
