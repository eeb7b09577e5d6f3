package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

var (
	ErrNotConnected    = errors.New("socket not connected")
	ErrReconnectFailed = errors.New("socket reconnection failed")
)

// Events understood by the broker.
const (
	EventJoinRoom        = "joinRoom"
	EventLeaveRoom       = "leaveRoom"
	EventSendMessage     = "sendMessage"
	EventGetMessages     = "getMessages"
	EventMessages        = "messages"
	EventProjectMessages = "projectMessages"
	EventMessage         = "message"
	EventCommentAdded    = "commentAdded"
	EventActivityUpdated = "activityUpdated"
	EventError           = "error"
)

const writeWait = 10 * time.Second

// ConnState is the state of the connection to the broker.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type (
	EventHandler func(event string, payload []byte)
	StateHandler func(state ConnState)
)

// Transport is the connection to the broker a Session drives.
type Transport interface {
	SetHandlers(onEvent EventHandler, onState StateHandler)
	Emit(event string, payload interface{}) error
	Join(room string) error
	Leave(room string) error
	State() ConnState
}

// SocketStrategy is the primary dispatch channel: the sendMessage event. It fails
// when the transport is not connected; the echo arrives as a message event.
func SocketStrategy(t Transport) Strategy {
	return Strategy{
		Name: "socket",
		Send: func(_ context.Context, msg OutgoingMessage) (Result, error) {
			if err := t.Emit(EventSendMessage, msg); err != nil {
				return Result{}, err
			}
			return Result{}, nil
		},
	}
}

type envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// SocketTransport is a reconnecting websocket connection to the broker. Rooms
// joined through it are joined again after every reconnect.
type SocketTransport struct {
	url      string
	header   http.Header
	dialer   *websocket.Dialer
	attempts int
	delay    time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ConnState
	rooms   map[string]bool
	onEvent EventHandler
	onState StateHandler

	writeMu sync.Mutex
}

// NewSocketTransport prepares a transport for url. Nothing is dialed until Run.
func NewSocketTransport(url string, header http.Header, opts Options) *SocketTransport {
	opts = opts.withDefaults()
	return &SocketTransport{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		attempts: opts.ReconnectAttempts,
		delay:    opts.ReconnectDelay,
		logger:   opts.Logger.With(slog.String("component", "socket")),
		rooms:    make(map[string]bool),
	}
}

func (t *SocketTransport) SetHandlers(onEvent EventHandler, onState StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvent = onEvent
	t.onState = onState
}

func (t *SocketTransport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Run connects and keeps reconnecting until ctx is done. It gives up after the
// configured number of consecutive failed attempts.
func (t *SocketTransport) Run(ctx context.Context) error {
	failures := 0
	for {
		t.setState(StateConnecting)

		conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
		if err == nil {
			failures = 0
			err = t.serve(ctx, conn)
		}
		t.setState(StateDisconnected)

		if ctx.Err() != nil {
			return nil
		}
		failures++
		if failures > t.attempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, t.attempts, err)
		}
		t.logger.Warn("Connection lost, reconnecting",
			slog.Int("attempt", failures),
			slog.Duration("delay", t.delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.delay):
		}
	}
}

// serve owns conn until it fails or ctx ends.
func (t *SocketTransport) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	t.mu.Lock()
	t.conn = conn
	rooms := make([]string, 0, len(t.rooms))
	for room := range t.rooms {
		rooms = append(rooms, room)
	}
	t.mu.Unlock()
	sort.Strings(rooms)

	for _, room := range rooms {
		if err := t.Emit(EventJoinRoom, room); err != nil {
			t.detach(conn)
			return err
		}
	}
	t.setState(StateConnected)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.detach(conn)
			return err
		}
		t.deliver(data)
	}
}

func (t *SocketTransport) detach(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.conn = nil
	}
}

func (t *SocketTransport) deliver(data []byte) {
	event := gjson.GetBytes(data, "type").String()
	if event == "" {
		t.logger.Debug("Ignoring frame without type")
		return
	}
	payload := gjson.GetBytes(data, "payload")

	t.mu.Lock()
	onEvent := t.onEvent
	t.mu.Unlock()
	if onEvent != nil {
		onEvent(event, []byte(payload.Raw))
	}
}

func (t *SocketTransport) setState(state ConnState) {
	t.mu.Lock()
	if t.state == state {
		t.mu.Unlock()
		return
	}
	t.state = state
	onState := t.onState
	t.mu.Unlock()

	if onState != nil {
		onState(state)
	}
}

// Emit writes one event. It fails with ErrNotConnected while there is no connection.
func (t *SocketTransport) Emit(event string, payload interface{}) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(envelope{Type: event, Payload: payload})
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Join remembers room and joins it now when connected.
func (t *SocketTransport) Join(room string) error {
	t.mu.Lock()
	t.rooms[room] = true
	t.mu.Unlock()

	if err := t.Emit(EventJoinRoom, room); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Leave forgets room and leaves it now when connected.
func (t *SocketTransport) Leave(room string) error {
	t.mu.Lock()
	delete(t.rooms, room)
	t.mu.Unlock()

	if err := t.Emit(EventLeaveRoom, room); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}
