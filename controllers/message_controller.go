package controllers

import (
	"errors"
	"net/http"

	"github.com/CUknot/project_chat/database"
	"github.com/CUknot/project_chat/middleware"
	"github.com/CUknot/project_chat/models"
	"github.com/CUknot/project_chat/websocket"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// MessageController is the REST fallback for clients that cannot use the socket.
type MessageController struct {
	hub *websocket.Hub
}

func NewMessageController(hub *websocket.Hub) *MessageController {
	return &MessageController{hub: hub}
}

// CreateMessage godoc
// @Summary Send a chat message
// @Description Persists a message and broadcasts it to its room. Accepts the same payload as the sendMessage socket event.
// @Tags messages
// @Accept json
// @Produce json
// @Param message body models.Message true "Message"
// @Success 201 {object} map[string]interface{} "Stored message"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/project-chat [post]
// @Router /api/chat/project [post]
func (mc *MessageController) CreateMessage(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	msg := models.DecodeMessage(body)
	if identity, ok := middleware.CurrentUser(c); ok {
		if msg.Sender == "" {
			msg.Sender = identity.UserID
		}
		if msg.SenderName == "" {
			msg.SenderName = identity.UserName
		}
	}

	stored, err := mc.hub.SendMessage(c.Request.Context(), msg)
	switch {
	case errors.Is(err, database.ErrEmptyContent), errors.Is(err, database.ErrNoRoom):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create message"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": stored})
}

// GetProjectMessages godoc
// @Summary Get recent messages for a project
// @Tags messages
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} map[string]interface{} "List of messages"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/project-chat/{projectId} [get]
func (mc *MessageController) GetProjectMessages(c *gin.Context) {
	mc.respondHistory(c, models.RoomKey(models.TypeProject, c.Param("projectId")))
}

// GetRoomMessages godoc
// @Summary Get recent messages for any room
// @Tags messages
// @Produce json
// @Param room path string true "Room key, e.g. task-7"
// @Success 200 {object} map[string]interface{} "List of messages"
// @Failure 400 {object} map[string]string "Invalid room key"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms/{room}/messages [get]
func (mc *MessageController) GetRoomMessages(c *gin.Context) {
	room := c.Param("room")
	if _, _, ok := models.ParseRoomKey(room); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room key"})
		return
	}
	mc.respondHistory(c, room)
}

func (mc *MessageController) respondHistory(c *gin.Context, room string) {
	messages, err := mc.hub.History(c.Request.Context(), room)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
