// Package server manages individual WebSocket sessions: the welcome frame,
// the inbound envelope handling, and the forwarding of hub items back to the
// client until either side goes away.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dickyybayu/advprog-module10-broadcast/internal/envelope"
	"github.com/dickyybayu/advprog-module10-broadcast/internal/hub"
	"github.com/dickyybayu/advprog-module10-broadcast/internal/registry"
)

// SessionState is the lifecycle stage of a session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// SessionOptions holds the per-connection transport limits.
type SessionOptions struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
}

// SessionOptions extracts the per-connection settings from the configuration.
func (c *Config) SessionOptions() SessionOptions {
	return SessionOptions{
		MaxMessageSize: c.MaxMessageSize,
		PingInterval:   c.PingInterval,
		PongWait:       c.PongWait,
		WriteWait:      c.WriteWait,
	}
}

// Session owns one client connection and its hub subscription.
type Session struct {
	id       string
	conn     Conn
	hub      *hub.Hub
	registry *registry.Registry
	opts     SessionOptions
	log      zerolog.Logger

	state     atomic.Int32
	closeOnce sync.Once
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// NewSession binds conn to the shared hub and registry under the given
// connection identity. The session takes ownership of conn.
func NewSession(id string, conn Conn, h *hub.Hub, reg *registry.Registry, opts SessionOptions, log zerolog.Logger) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		hub:      h,
		registry: reg,
		opts:     opts,
		log:      log.With().Str("conn_id", id).Logger(),
	}
}

// ID returns the connection identity.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle stage.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Run greets the client and then relays traffic until the client disconnects,
// an I/O operation fails, or ctx is cancelled. A clean disconnect or
// cancellation returns nil. The subscription and the connection are released
// on every path.
func (s *Session) Run(ctx context.Context) error {
	sub := s.hub.Subscribe()
	defer func() {
		sub.Close()
		s.state.Store(int32(StateClosed))
	}()
	defer s.closeConnection()

	s.setupReadConnection()

	welcome, err := envelope.Encode(envelope.Welcome())
	if err != nil {
		return fmt.Errorf("encode welcome: %w", err)
	}
	if err := s.write(websocket.TextMessage, welcome); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}

	s.state.Store(int32(StateActive))

	frames := make(chan inboundFrame)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readPump(frames, stop)
	}()
	defer func() {
		close(stop)
		s.closeConnection()
		wg.Wait()
	}()

	return s.relay(ctx, sub, frames)
}

// setupReadConnection applies the read limit and, when keepalive is enabled,
// a read deadline that every pong pushes forward.
func (s *Session) setupReadConnection() {
	if s.opts.MaxMessageSize > 0 {
		s.conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	if s.opts.PingInterval <= 0 {
		return
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait)); err != nil {
		s.log.Warn().Err(err).Msg("Error setting initial read deadline")
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})
}

// readPump hands every inbound frame to the relay loop. It stops after the
// first read error or once stop is closed.
func (s *Session) readPump(frames chan<- inboundFrame, stop <-chan struct{}) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		select {
		case frames <- inboundFrame{messageType: messageType, data: data, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) relay(ctx context.Context, sub *hub.Subscription, frames <-chan inboundFrame) error {
	var ping <-chan time.Time
	if s.opts.PingInterval > 0 {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case frame := <-frames:
			if frame.err != nil {
				return s.handleReadError(frame.err)
			}
			s.handleFrame(frame.messageType, frame.data)

		case item, ok := <-sub.C():
			if !ok {
				s.writeCloseMessage()
				return nil
			}
			if lagged := sub.Lagged(); lagged > 0 {
				s.log.Warn().Uint64("dropped", lagged).Msg("Client fell behind the broadcast stream")
			}
			if err := s.write(websocket.TextMessage, []byte(item)); err != nil {
				return fmt.Errorf("forward broadcast: %w", err)
			}

		case <-ping:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}

		case <-ctx.Done():
			s.writeCloseMessage()
			return nil
		}
	}
}

// handleReadError returns nil when the client went away cleanly and a wrapped
// error otherwise.
func (s *Session) handleReadError(err error) error {
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		s.log.Debug().Err(err).Msg("Client disconnected")
		return nil
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.log.Debug().Err(err).Msg("Client connection closed")
		return nil
	case errors.Is(err, websocket.ErrReadLimit):
		return fmt.Errorf("frame exceeded maximum size of %d bytes: %w", s.opts.MaxMessageSize, err)
	default:
		return fmt.Errorf("read from client: %w", err)
	}
}

func (s *Session) handleFrame(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		s.log.Debug().Int("message_type", messageType).Msg("Ignoring non-text frame")
		return
	}

	env, err := envelope.Decode(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("Dropping malformed frame")
		return
	}

	switch env.Kind {
	case envelope.Register:
		s.handleRegister(env)
	case envelope.Message:
		s.handleMessage(env)
	default:
		s.log.Debug().Str("message_type", string(env.Kind)).Msg("Ignoring server-only envelope from client")
	}
}

func (s *Session) handleRegister(env envelope.Envelope) {
	name, ok := env.Text()
	if !ok {
		name = s.id
	}

	s.registry.Register(s.id, name)
	s.log.Info().Str("name", name).Msg("Client registered")

	s.publish(envelope.NewUsers(s.registry.Snapshot()))
}

func (s *Session) handleMessage(env envelope.Envelope) {
	text, _ := env.Text()

	out, err := envelope.NewChatMessage(s.registry.Lookup(s.id), text)
	if err != nil {
		s.log.Error().Err(err).Msg("Error building chat message")
		return
	}
	s.publish(out)
}

func (s *Session) publish(env envelope.Envelope) {
	raw, err := envelope.Encode(env)
	if err != nil {
		s.log.Error().Err(err).Msg("Error encoding broadcast")
		return
	}

	receivers, err := s.hub.Publish(string(raw))
	if err != nil {
		s.log.Debug().Err(err).Msg("Broadcast not delivered")
		return
	}
	s.log.Debug().Int("receivers", receivers).Str("message_type", string(env.Kind)).Msg("Broadcast published")
}

func (s *Session) write(messageType int, data []byte) error {
	if s.opts.WriteWait > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(messageType, data)
}

// writeCloseMessage tells the client the relay is going away.
func (s *Session) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := s.write(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("Error writing close message")
	}
}

func (s *Session) closeConnection() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("Error closing connection")
		}
	})
}
