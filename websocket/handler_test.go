package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CUknot/project_chat/config"
	"github.com/CUknot/project_chat/database"
	"github.com/CUknot/project_chat/models"
	"github.com/CUknot/project_chat/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "chat.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	hub := NewHub(database.NewMessageStore(db), 50, testLogger())
	handler := NewHandler(hub, testSecret, rate.Inf, 1, testLogger())

	router := gin.New()
	router.GET("/ws", handler.HandleConnection)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, hub
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Event{Type: event, Payload: payload}))
}

type rawEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func next(t *testing.T, conn *websocket.Conn) rawEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var e rawEvent
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

// joinAndSync joins room and waits for the history reply so the join is known to be applied.
func joinAndSync(t *testing.T, conn *websocket.Conn, room string) []models.Message {
	t.Helper()
	emit(t, conn, EventJoinRoom, room)
	emit(t, conn, EventGetMessages, room)

	e := next(t, conn)
	require.Equal(t, EventProjectMessages, e.Type)
	var history []models.Message
	require.NoError(t, json.Unmarshal(e.Payload, &history))
	return history
}

func TestHandleConnection_RequiresIdentity(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(server.URL + "/ws?token=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleConnection_HappyPath(t *testing.T) {
	server, hub := newTestServer(t)

	a := dial(t, server, "user_id=ua&user_name=Alice")
	b := dial(t, server, "user_id=u1&user_name=Bob")

	assert.Empty(t, joinAndSync(t, a, "project-42"))
	assert.Empty(t, joinAndSync(t, b, "project-42"))
	assert.Equal(t, 2, hub.RoomSize("project-42"))

	emit(t, b, EventSendMessage, map[string]interface{}{
		"content":   "hi",
		"sender":    "u1",
		"projectId": 42,
		"clientId":  "c-1",
		"timestamp": time.Now().UnixMilli(),
	})

	for _, conn := range []*websocket.Conn{a, b} {
		e := next(t, conn)
		require.Equal(t, EventMessage, e.Type)

		var msg models.Message
		require.NoError(t, json.Unmarshal(e.Payload, &msg))
		assert.Equal(t, "hi", msg.Content)
		assert.Equal(t, "u1", msg.Sender)
		assert.Equal(t, "Bob", msg.SenderName)
		assert.Equal(t, "project-42", msg.Room)
		assert.Equal(t, "c-1", msg.ClientID)
		assert.NotEmpty(t, msg.ID)
	}

	history, err := hub.History(context.Background(), "project-42")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHandleConnection_TokenIdentity(t *testing.T) {
	server, _ := newTestServer(t)
	token, err := utils.GenerateToken(testSecret, utils.Identity{UserID: "u7", UserName: "Grace"}, time.Hour)
	require.NoError(t, err)

	conn := dial(t, server, "token="+token)
	joinAndSync(t, conn, "project-1")

	emit(t, conn, EventSendMessage, map[string]string{"content": "from token", "projectId": "1"})

	e := next(t, conn)
	require.Equal(t, EventMessage, e.Type)
	var msg models.Message
	require.NoError(t, json.Unmarshal(e.Payload, &msg))
	assert.Equal(t, "u7", msg.Sender)
	assert.Equal(t, "Grace", msg.SenderName)
}

func TestHandleConnection_InvalidRoomKey(t *testing.T) {
	server, hub := newTestServer(t)
	conn := dial(t, server, "user_id=u1")

	emit(t, conn, EventJoinRoom, "nodash")

	e := next(t, conn)
	assert.Equal(t, EventError, e.Type)
	assert.Empty(t, hub.Rooms())
}

func TestHandleConnection_DisconnectLeavesRooms(t *testing.T) {
	server, hub := newTestServer(t)
	conn := dial(t, server, "user_id=u1")
	joinAndSync(t, conn, "project-5")
	require.Equal(t, 1, hub.RoomSize("project-5"))

	conn.Close()

	assert.Eventually(t, func() bool { return hub.RoomSize("project-5") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRoomFromPayload(t *testing.T) {
	assert.Equal(t, "project-1", roomFromPayload(json.RawMessage(`"project-1"`)))
	assert.Equal(t, "42", roomFromPayload(json.RawMessage(`42`)))
	assert.Equal(t, "task-3", roomFromPayload(json.RawMessage(`{"room":"task-3"}`)))
	assert.Equal(t, "project-9", roomFromPayload(json.RawMessage(`{"projectId":9}`)))
	assert.Empty(t, roomFromPayload(json.RawMessage(`{}`)))
}
