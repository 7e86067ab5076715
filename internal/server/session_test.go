package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dickyybayu/advprog-module10-broadcast/internal/envelope"
	"github.com/dickyybayu/advprog-module10-broadcast/internal/hub"
	"github.com/dickyybayu/advprog-module10-broadcast/internal/mocks"
	"github.com/dickyybayu/advprog-module10-broadcast/internal/registry"
)

var errConnReset = errors.New("read tcp 127.0.0.1:8080: connection reset by peer")

func testSessionOptions() SessionOptions {
	return SessionOptions{
		MaxMessageSize: 512,
		WriteWait:      time.Second,
	}
}

type sessionFixture struct {
	conn     *mocks.MockConn
	hub      *hub.Hub
	registry *registry.Registry
	session  *Session
}

func newSessionFixture(t *testing.T, opts SessionOptions) *sessionFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	conn := mocks.NewMockConn(ctrl)
	h := hub.New(hub.DefaultCapacity)
	reg := registry.New()

	conn.EXPECT().SetReadLimit(opts.MaxMessageSize).AnyTimes()
	conn.EXPECT().SetWriteDeadline(gomock.Any()).Return(nil).AnyTimes()

	return &sessionFixture{
		conn:     conn,
		hub:      h,
		registry: reg,
		session:  NewSession("conn-1", conn, h, reg, opts, zerolog.Nop()),
	}
}

// blockUntilClosed makes ReadMessage block until Close is called, like a real
// connection with a silent client.
func (f *sessionFixture) blockUntilClosed() {
	closed := make(chan struct{})
	f.conn.EXPECT().Close().DoAndReturn(func() error {
		close(closed)
		return nil
	})
	f.conn.EXPECT().ReadMessage().DoAndReturn(func() (int, []byte, error) {
		<-closed
		return 0, nil, errors.New("use of closed network connection")
	}).MaxTimes(1)
}

func runSession(t *testing.T, ctx context.Context, s *Session) error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
		return nil
	}
}

func TestSession_WelcomeWriteFailure(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, testSessionOptions())

	f.conn.EXPECT().WriteMessage(websocket.TextMessage, gomock.Any()).Return(errConnReset)
	f.conn.EXPECT().Close().Return(nil)

	err := runSession(t, context.Background(), f.session)

	req.ErrorIs(err, errConnReset)
	req.Equal(StateClosed, f.session.State())
	req.Zero(f.hub.Subscribers(), "subscription must be released")
}

func TestSession_ReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		readErr error
		clean   bool
	}{
		{name: "normal closure", readErr: &websocket.CloseError{Code: websocket.CloseNormalClosure}, clean: true},
		{name: "going away", readErr: &websocket.CloseError{Code: websocket.CloseGoingAway}, clean: true},
		{name: "no status", readErr: &websocket.CloseError{Code: websocket.CloseNoStatusReceived}, clean: true},
		{name: "eof", readErr: io.EOF, clean: true},
		{name: "abnormal closure", readErr: &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: io.ErrUnexpectedEOF.Error()}},
		{name: "frame too large", readErr: websocket.ErrReadLimit},
		{name: "connection reset", readErr: errConnReset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			f := newSessionFixture(t, testSessionOptions())

			f.conn.EXPECT().WriteMessage(websocket.TextMessage, gomock.Any()).Return(nil)
			f.conn.EXPECT().ReadMessage().Return(0, nil, tt.readErr)
			f.conn.EXPECT().Close().Return(nil)

			err := runSession(t, context.Background(), f.session)

			if tt.clean {
				req.NoError(err)
			} else {
				req.ErrorIs(err, tt.readErr)
			}
			req.Equal(StateClosed, f.session.State())
			req.Zero(f.hub.Subscribers())
		})
	}
}

func TestSession_RegisterThenMessage(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, testSessionOptions())

	var (
		mu     sync.Mutex
		writes [][]byte
	)
	forwarded := make(chan struct{})
	f.conn.EXPECT().WriteMessage(websocket.TextMessage, gomock.Any()).DoAndReturn(
		func(_ int, data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			writes = append(writes, append([]byte(nil), data...))
			if len(writes) == 3 {
				close(forwarded)
			}
			return nil
		}).Times(3)

	gomock.InOrder(
		f.conn.EXPECT().ReadMessage().Return(websocket.TextMessage, []byte(`{"messageType":"register","data":"alice"}`), nil),
		f.conn.EXPECT().ReadMessage().Return(websocket.TextMessage, []byte(`{"messageType":"message","data":"hi"}`), nil),
		f.conn.EXPECT().ReadMessage().DoAndReturn(func() (int, []byte, error) {
			<-forwarded
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}),
	)
	f.conn.EXPECT().Close().Return(nil)

	req.NoError(runSession(t, context.Background(), f.session))

	mu.Lock()
	defer mu.Unlock()
	req.Len(writes, 3)

	welcome, err := envelope.Decode(writes[0])
	req.NoError(err)
	req.Equal(envelope.Message, welcome.Kind)
	req.JSONEq(`{"from":"System","message":"Welcome to chat!"}`, *welcome.Data)

	users, err := envelope.Decode(writes[1])
	req.NoError(err)
	req.Equal(envelope.Users, users.Kind)
	req.Equal([]string{"alice"}, users.DataArray)

	chat, err := envelope.Decode(writes[2])
	req.NoError(err)
	req.Equal(envelope.Message, chat.Kind)
	req.JSONEq(`{"from":"alice","message":"hi"}`, *chat.Data)

	req.Equal("alice", f.registry.Lookup("conn-1"))
}

func TestSession_RegisterWithoutNameUsesIdentity(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, testSessionOptions())

	var usersFrame []byte
	forwarded := make(chan struct{})
	gomock.InOrder(
		f.conn.EXPECT().WriteMessage(websocket.TextMessage, gomock.Any()).Return(nil),
		f.conn.EXPECT().WriteMessage(websocket.TextMessage, gomock.Any()).DoAndReturn(
			func(_ int, data []byte) error {
				usersFrame = append([]byte(nil), data...)
				close(forwarded)
				return nil
			}),
	)

	gomock.InOrder(
		f.conn.EXPECT().ReadMessage().Return(websocket.TextMessage, []byte(`{"messageType":"register"}`), nil),
		f.conn.EXPECT().ReadMessage().DoAndReturn(func() (int, []byte, error) {
			<-forwarded
			return 0, nil, io.EOF
		}),
	)
	f.conn.EXPECT().Close().Return(nil)

	req.NoError(runSession(t, context.Background(), f.session))

	var frame map[string]any
	req.NoError(json.Unmarshal(usersFrame, &frame))
	req.Equal("users", frame["messageType"])
	req.Equal([]any{"conn-1"}, frame["dataArray"])
	req.NotContains(frame, "data")
}

func TestSession_IgnoresMalformedAndServerOnlyFrames(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, testSessionOptions())

	// Only the welcome frame is ever written.
	f.conn.EXPECT().WriteMessage(websocket.TextMessage, gomock.Any()).Return(nil).Times(1)

	gomock.InOrder(
		f.conn.EXPECT().ReadMessage().Return(websocket.TextMessage, []byte("not json"), nil),
		f.conn.EXPECT().ReadMessage().Return(websocket.TextMessage, []byte(`{"messageType":"shout","data":"x"}`), nil),
		f.conn.EXPECT().ReadMessage().Return(websocket.TextMessage, []byte(`{"messageType":"users","dataArray":["eve"]}`), nil),
		f.conn.EXPECT().ReadMessage().Return(websocket.BinaryMessage, []byte{0x01, 0x02}, nil),
		f.conn.EXPECT().ReadMessage().Return(0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}),
	)
	f.conn.EXPECT().Close().Return(nil)

	req.NoError(runSession(t, context.Background(), f.session))
	req.Zero(f.registry.Len())
}

func TestSession_ForwardWriteFailure(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, testSessionOptions())

	gomock.InOrder(
		f.conn.EXPECT().WriteMessage(websocket.TextMessage, gomock.Any()).DoAndReturn(
			func(int, []byte) error {
				// The session is subscribed before the welcome is sent.
				_, err := f.hub.Publish(`{"messageType":"message","data":"x"}`)
				return err
			}),
		f.conn.EXPECT().WriteMessage(websocket.TextMessage, []byte(`{"messageType":"message","data":"x"}`)).Return(errConnReset),
	)
	f.blockUntilClosed()

	err := runSession(t, context.Background(), f.session)

	req.ErrorIs(err, errConnReset)
	req.Equal(StateClosed, f.session.State())
	req.Zero(f.hub.Subscribers())
}

func TestSession_ContextCancelSendsCloseFrame(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, testSessionOptions())

	ctx, cancel := context.WithCancel(context.Background())
	f.conn.EXPECT().WriteMessage(websocket.TextMessage, gomock.Any()).DoAndReturn(
		func(int, []byte) error {
			cancel()
			return nil
		})
	f.conn.EXPECT().WriteMessage(websocket.CloseMessage, gomock.Any()).Return(nil)
	f.blockUntilClosed()

	req.NoError(runSession(t, ctx, f.session))
	req.Equal(StateClosed, f.session.State())
}

func TestSession_HubCloseEndsSession(t *testing.T) {
	req := require.New(t)
	f := newSessionFixture(t, testSessionOptions())

	f.conn.EXPECT().WriteMessage(websocket.TextMessage, gomock.Any()).DoAndReturn(
		func(int, []byte) error {
			f.hub.Close()
			return nil
		})
	f.conn.EXPECT().WriteMessage(websocket.CloseMessage, gomock.Any()).Return(nil)
	f.blockUntilClosed()

	req.NoError(runSession(t, context.Background(), f.session))
}

func TestSession_KeepalivePings(t *testing.T) {
	req := require.New(t)
	opts := testSessionOptions()
	opts.PingInterval = 10 * time.Millisecond
	opts.PongWait = time.Second
	f := newSessionFixture(t, opts)

	f.conn.EXPECT().SetReadDeadline(gomock.Any()).Return(nil)
	f.conn.EXPECT().SetPongHandler(gomock.Any())
	f.conn.EXPECT().WriteMessage(websocket.TextMessage, gomock.Any()).Return(nil)

	pinged := make(chan struct{})
	var once sync.Once
	f.conn.EXPECT().WriteMessage(websocket.PingMessage, gomock.Any()).DoAndReturn(
		func(int, []byte) error {
			once.Do(func() { close(pinged) })
			return nil
		}).MinTimes(1)

	f.conn.EXPECT().ReadMessage().DoAndReturn(func() (int, []byte, error) {
		<-pinged
		return 0, nil, &websocket.CloseError{Code: websocket.CloseGoingAway}
	})
	f.conn.EXPECT().Close().Return(nil)

	req.NoError(runSession(t, context.Background(), f.session))
}

func TestSessionState_String(t *testing.T) {
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "active", StateActive.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "SessionState(9)", SessionState(9).String())
}
