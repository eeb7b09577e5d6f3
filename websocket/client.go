package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 10000

	sendBufferSize = 256
)

var (
	ErrClientClosed = errors.New("client connection closed")
	ErrSlowConsumer = errors.New("client send buffer full")
)

// Client represents a connected websocket client
type Client struct {
	id       string
	userID   string
	userName string

	hub     *Hub
	handler *MessageHandler
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, handler *MessageHandler, conn *websocket.Conn, userID, userName string, limiter *rate.Limiter, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:       id,
		userID:   userID,
		userName: userName,
		hub:      hub,
		handler:  handler,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		limiter:  limiter,
		logger:   logger.With(slog.String("connID", id), slog.String("userID", userID)),
		done:     make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() string { return c.userID }

func (c *Client) UserName() string { return c.userName }

// Send queues a frame for the write pump without blocking.
func (c *Client) Send(message []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- message:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// emit encodes and queues a single event for this client only.
func (c *Client) emit(event string, payload interface{}) {
	data, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		c.logger.Error("Failed to marshal event", slog.String("event", event), slog.Any("error", err))
		return
	}
	if err := c.Send(data); err != nil {
		c.logger.Warn("Failed to queue event", slog.String("event", event), slog.Any("error", err))
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.LeaveAll(c)
		c.conn.Close()
		c.logger.Info("Connection closed")
	})
}

// readPump pumps messages from the websocket connection to the message handler
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Unexpected close", slog.Any("error", err))
			}
			return
		}

		c.handler.HandleIncomingMessage(c, message)
	}
}

// writePump pumps messages from the send buffer to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// One frame per event; clients decode frames individually.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
