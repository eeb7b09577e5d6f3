package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/CUknot/project_chat/models"
	"github.com/tidwall/gjson"
)

const storeTimeout = 5 * time.Second

// incomingEvent is a client frame with its payload left undecoded.
type incomingEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessageHandler routes client events to the hub.
type MessageHandler struct {
	hub    *Hub
	logger *slog.Logger
}

func NewMessageHandler(hub *Hub, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		hub:    hub,
		logger: logger.With(slog.String("component", "message_handler")),
	}
}

// HandleIncomingMessage processes an incoming WebSocket message
func (mh *MessageHandler) HandleIncomingMessage(client *Client, messageBytes []byte) {
	var msg incomingEvent
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		mh.logger.Warn("Error unmarshaling message", slog.String("connID", client.ID()), slog.Any("error", err))
		return
	}

	switch msg.Type {
	case EventJoinRoom:
		mh.handleJoinRoom(client, msg.Payload)
	case EventLeaveRoom:
		if room := roomFromPayload(msg.Payload); room != "" {
			mh.hub.LeaveRoom(client, room)
		}
	case EventSendMessage:
		mh.handleSend(client, msg.Payload, mh.hub.SendMessage)
	case EventNewComment:
		mh.handleSend(client, msg.Payload, mh.hub.SendComment)
	case EventGetMessages:
		mh.handleGetMessages(client, msg.Payload)
	default:
		mh.logger.Debug("Ignoring unknown event", slog.String("event", msg.Type), slog.String("connID", client.ID()))
	}
}

func (mh *MessageHandler) handleJoinRoom(client *Client, payload json.RawMessage) {
	room := roomFromPayload(payload)
	if _, _, ok := models.ParseRoomKey(room); !ok {
		client.emit(EventError, ErrorPayload{Message: "invalid room key"})
		return
	}

	mh.hub.JoinRoom(client, room)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := mh.hub.MarkRead(ctx, room, client.UserID()); err != nil {
		mh.logger.Warn("Error updating last read time", slog.String("room", room), slog.Any("error", err))
	}
}

type sendFunc func(ctx context.Context, msg *models.Message) (*models.Message, error)

func (mh *MessageHandler) handleSend(client *Client, payload json.RawMessage, send sendFunc) {
	if !client.limiter.Allow() {
		client.emit(EventError, ErrorPayload{Message: "rate limit exceeded, slow down"})
		return
	}

	msg := models.DecodeMessage(payload)
	if msg.Sender == "" {
		msg.Sender = client.UserID()
	}
	if msg.SenderName == "" {
		msg.SenderName = client.UserName()
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	// Failures are only logged: the sender notices the missing echo.
	if _, err := send(ctx, msg); err != nil {
		mh.logger.Warn("Message dropped", slog.String("connID", client.ID()), slog.Any("error", err))
	}
}

func (mh *MessageHandler) handleGetMessages(client *Client, payload json.RawMessage) {
	room := roomFromPayload(payload)
	if room == "" {
		client.emit(EventError, ErrorPayload{Message: "missing entity id"})
		return
	}
	if _, _, ok := models.ParseRoomKey(room); !ok {
		room = models.RoomKey(models.TypeProject, room)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	history, err := mh.hub.History(ctx, room)
	if err != nil {
		mh.logger.Error("Failed to load history", slog.String("room", room), slog.Any("error", err))
		client.emit(EventError, ErrorPayload{Message: "failed to load messages"})
		return
	}

	event := EventMessages
	if strings.HasPrefix(room, models.TypeProject+"-") {
		event = EventProjectMessages
	}
	client.emit(event, history)
}

// roomFromPayload accepts a bare JSON string or number, or an object with a room field.
func roomFromPayload(payload json.RawMessage) string {
	res := gjson.ParseBytes(payload)
	if res.IsObject() {
		if room := res.Get("room"); room.Exists() {
			return strings.TrimSpace(room.String())
		}
		if id := res.Get("projectId"); id.Exists() {
			return models.RoomKey(models.TypeProject, id.String())
		}
		return ""
	}
	return strings.TrimSpace(res.String())
}
