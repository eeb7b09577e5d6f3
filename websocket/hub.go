package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CUknot/project_chat/database"
	"github.com/CUknot/project_chat/models"
)

// Subscriber is one live connection as the hub sees it. Send must not block.
type Subscriber interface {
	ID() string
	Send(message []byte) error
}

// Store is the message persistence the hub depends on.
type Store interface {
	Create(ctx context.Context, msg *models.Message) error
	History(ctx context.Context, room string, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, room, userID string, at time.Time) error
}

// Forwarder receives every locally published frame, e.g. to fan out to other
// instances. Forward runs under the hub lock, in publish order, and must not block.
type Forwarder interface {
	Forward(room string, message []byte)
}

// Event is the envelope of every frame on the wire.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// RoomInfo describes a live room.
type RoomInfo struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

// Hub is the room registry. Rooms exist while they have at least one member.
type Hub struct {
	store        Store
	historyLimit int
	logger       *slog.Logger

	// mu also serializes Publish so every member of a room sees the same order.
	mu          sync.Mutex
	rooms       map[string]map[string]Subscriber
	memberships map[string]map[string]bool
	forwarder   Forwarder
}

// NewHub creates a new hub instance
func NewHub(store Store, historyLimit int, logger *slog.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Hub{
		store:        store,
		historyLimit: historyLimit,
		logger:       logger.With(slog.String("component", "hub")),
		rooms:        make(map[string]map[string]Subscriber),
		memberships:  make(map[string]map[string]bool),
	}
}

// SetForwarder installs f to receive every frame published on this instance.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwarder = f
}

// Join adds sub to the room "{entityType}-{entityID}".
func (h *Hub) Join(sub Subscriber, entityType, entityID string) {
	h.JoinRoom(sub, models.RoomKey(entityType, entityID))
}

// Leave removes sub from the room "{entityType}-{entityID}".
func (h *Hub) Leave(sub Subscriber, entityType, entityID string) {
	h.LeaveRoom(sub, models.RoomKey(entityType, entityID))
}

// JoinRoom adds sub to room. Joining twice has no further effect.
func (h *Hub) JoinRoom(sub Subscriber, room string) {
	if sub == nil || room == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]Subscriber)
	}
	h.rooms[room][sub.ID()] = sub

	if _, ok := h.memberships[sub.ID()]; !ok {
		h.memberships[sub.ID()] = make(map[string]bool)
	}
	h.memberships[sub.ID()][room] = true

	h.logger.Debug("Joined room", slog.String("connID", sub.ID()), slog.String("room", room))
}

// LeaveRoom removes sub from room. No-op when it is not a member.
func (h *Hub) LeaveRoom(sub Subscriber, room string) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub.ID(), room)
}

// LeaveAll removes sub from every room it joined.
func (h *Hub) LeaveAll(sub Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(sub.ID())
}

func (h *Hub) removeLocked(connID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		// Clean up empty rooms
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.memberships[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.memberships, connID)
		}
	}
}

func (h *Hub) dropLocked(connID string) {
	for room := range h.memberships[connID] {
		h.removeLocked(connID, room)
	}
}

// Publish delivers payload as event to every current member of room, the
// publisher included, and returns the number of members that accepted it.
func (h *Hub) Publish(room, event string, payload interface{}) int {
	data, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		h.logger.Error("Failed to marshal event", slog.String("event", event), slog.Any("error", err))
		return 0
	}

	return h.publish(room, data, true)
}

// PublishLocal delivers an already encoded frame to local members only.
func (h *Hub) PublishLocal(room string, data []byte) int {
	return h.publish(room, data, false)
}

func (h *Hub) publish(room string, data []byte, forward bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for connID, sub := range h.rooms[room] {
		if err := sub.Send(data); err != nil {
			h.logger.Warn("Dropping subscriber", slog.String("connID", connID), slog.String("room", room), slog.Any("error", err))
			h.dropLocked(connID)
			continue
		}
		delivered++
	}
	if forward && h.forwarder != nil {
		h.forwarder.Forward(room, data)
	}
	return delivered
}

// SendMessage persists msg and publishes it as a "message" event to its room.
// When persistence fails nothing is published.
func (h *Hub) SendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	return h.persistAndPublish(ctx, msg, EventMessage)
}

// SendComment is SendMessage for comments, published as "commentAdded".
func (h *Hub) SendComment(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.Type == "" {
		msg.Type = models.TypeComment
	}
	return h.persistAndPublish(ctx, msg, EventCommentAdded)
}

func (h *Hub) persistAndPublish(ctx context.Context, msg *models.Message, event string) (*models.Message, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return nil, database.ErrEmptyContent
	}
	if err := h.store.Create(ctx, msg); err != nil {
		h.logger.Error("Failed to persist message", slog.String("room", msg.Room), slog.Any("error", err))
		return nil, err
	}

	delivered := h.Publish(msg.Room, event, msg)
	h.logger.Debug("Message published",
		slog.String("id", msg.ID),
		slog.String("room", msg.Room),
		slog.Int("delivered", delivered),
	)
	return msg, nil
}

// History returns the recent messages of room.
func (h *Hub) History(ctx context.Context, room string) ([]models.Message, error) {
	return h.store.History(ctx, room, h.historyLimit)
}

// MarkRead records that userID has read room up to now.
func (h *Hub) MarkRead(ctx context.Context, room, userID string) error {
	if userID == "" {
		return nil
	}
	return h.store.MarkRead(ctx, room, userID, time.Now())
}

// IsMember reports whether sub currently belongs to room.
func (h *Hub) IsMember(sub Subscriber, room string) bool {
	if sub == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.memberships[sub.ID()][room]
}

// RoomSize returns the number of members of room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Rooms lists live rooms ordered by key.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms := make([]RoomInfo, 0, len(h.rooms))
	for room, members := range h.rooms {
		rooms = append(rooms, RoomInfo{Room: room, Members: len(members)})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Room < rooms[j].Room })
	return rooms
}
