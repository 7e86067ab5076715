// Package server accepts WebSocket connections and binds each of them to the
// shared broadcast hub and name registry through its own Session.
package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dickyybayu/advprog-module10-broadcast/internal/hub"
	"github.com/dickyybayu/advprog-module10-broadcast/internal/registry"
)

// Server is the connection acceptor. It owns the process-wide hub and
// registry and tracks every live session so shutdown can wait for them.
type Server struct {
	cfg      *Config
	log      zerolog.Logger
	hub      *hub.Hub
	registry *registry.Registry
	upgrader websocket.Upgrader
	newID    func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessions sync.WaitGroup
	active   atomic.Int64
}

// New creates a relay server from cfg. A nil cfg uses the defaults.
func New(cfg *Config, log zerolog.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "relay").Logger(),
		hub:      hub.New(cfg.BroadcastCapacity),
		registry: registry.New(),
		newID:    uuid.NewString,
		ctx:      ctx,
		cancel:   cancel,
	}

	origins := newOriginPolicy(cfg.AllowedOrigins, s.log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
	return s
}

// Hub returns the shared broadcast hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Registry returns the shared name registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// ActiveSessions returns the number of sessions currently running.
func (s *Server) ActiveSessions() int {
	return int(s.active.Load())
}

// Accept mints a fresh identity for conn and runs its session in a new
// goroutine. A failing session only ends itself. After Shutdown, conn is
// closed immediately.
func (s *Server) Accept(conn Conn, remoteAddr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		_ = conn.Close()
		return
	}

	id := s.newID()
	log := s.log.With().Str("remote_addr", remoteAddr).Logger()
	session := NewSession(id, conn, s.hub, s.registry, s.cfg.SessionOptions(), log)

	s.sessions.Add(1)
	s.active.Add(1)
	go func() {
		defer s.sessions.Done()

		log.Info().Str("conn_id", id).Int("clients", s.ActiveSessions()).Msg("Client connected")
		err := session.Run(s.ctx)
		remaining := s.active.Add(-1)
		if err != nil {
			log.Warn().Err(err).Str("conn_id", id).Msg("Session ended with error")
		}
		log.Info().Str("conn_id", id).Int64("clients", remaining).Msg("Client disconnected")
	}()
}

// Shutdown stops accepting connections, asks every session to close, and
// waits for them until timeout. It returns context.DeadlineExceeded if some
// sessions are still running when the timeout expires.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.log.Info().Int("clients", s.ActiveSessions()).Msg("Initiating relay shutdown...")
	s.cancel()
	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("Relay shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		s.log.Warn().Int("clients", s.ActiveSessions()).Msg("Relay shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
