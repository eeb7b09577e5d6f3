package websocket

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/CUknot/project_chat/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Handler upgrades HTTP requests into hub clients.
type Handler struct {
	hub       *Hub
	messages  *MessageHandler
	jwtSecret string
	sendRate  rate.Limit
	sendBurst int
	logger    *slog.Logger
}

func NewHandler(hub *Hub, jwtSecret string, sendRate rate.Limit, sendBurst int, logger *slog.Logger) *Handler {
	return &Handler{
		hub:       hub,
		messages:  NewMessageHandler(hub, logger),
		jwtSecret: jwtSecret,
		sendRate:  sendRate,
		sendBurst: sendBurst,
		logger:    logger.With(slog.String("component", "ws")),
	}
}

// HandleConnection handles websocket connections
//
// The user is taken from a JWT ("token" query parameter or bearer header) when
// one is presented, otherwise from the user_id and user_name query parameters.
func (h *Handler) HandleConnection(c *gin.Context) {
	identity, ok := h.identify(c)
	if !ok {
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Error upgrading connection", slog.Any("error", err))
		return
	}

	client := newClient(h.hub, h.messages, conn, identity.UserID, identity.UserName,
		rate.NewLimiter(h.sendRate, h.sendBurst), h.logger)
	client.logger.Info("Connection established", slog.String("remoteAddr", c.ClientIP()))

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

func (h *Handler) identify(c *gin.Context) (utils.Identity, bool) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}

	if token != "" && h.jwtSecret != "" {
		identity, err := utils.ParseToken(h.jwtSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return utils.Identity{}, false
		}
		return identity, true
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return utils.Identity{}, false
	}
	return utils.Identity{UserID: userID, UserName: c.Query("user_name")}, true
}
