package controllers

import (
	"net/http"
	"time"

	"github.com/CUknot/project_chat/database"
	"github.com/CUknot/project_chat/middleware"
	"github.com/CUknot/project_chat/models"
	"github.com/CUknot/project_chat/websocket"
	"github.com/gin-gonic/gin"
)

// RoomController exposes live rooms and per-user read markers.
type RoomController struct {
	hub   *websocket.Hub
	store *database.MessageStore
}

func NewRoomController(hub *websocket.Hub, store *database.MessageStore) *RoomController {
	return &RoomController{hub: hub, store: store}
}

// GetRooms godoc
// @Summary List live rooms
// @Description Returns every room that currently has at least one connection, with its member count
// @Tags rooms
// @Produce json
// @Success 200 {object} map[string]interface{} "List of rooms"
// @Router /api/rooms [get]
func (rc *RoomController) GetRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": rc.hub.Rooms()})
}

// GetUnreadCount godoc
// @Summary Count unread messages in a room
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param room path string true "Room key"
// @Success 200 {object} map[string]interface{} "Unread count"
// @Failure 400 {object} map[string]string "Invalid room key"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms/{room}/unread [get]
func (rc *RoomController) GetUnreadCount(c *gin.Context) {
	room, userID, ok := rc.roomAndUser(c)
	if !ok {
		return
	}

	count, err := rc.store.UnreadCount(c.Request.Context(), room, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count unread messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": room, "unreadCount": count})
}

// MarkRoomAsRead godoc
// @Summary Mark a room as read
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param room path string true "Room key"
// @Success 200 {object} map[string]interface{} "Room marked as read"
// @Failure 400 {object} map[string]string "Invalid room key"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms/{room}/read [post]
func (rc *RoomController) MarkRoomAsRead(c *gin.Context) {
	room, userID, ok := rc.roomAndUser(c)
	if !ok {
		return
	}

	now := time.Now()
	if err := rc.store.MarkRead(c.Request.Context(), room, userID, now); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update last read time"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Room marked as read", "lastReadAt": now})
}

// Read markers need a user; the room key must be well formed.
func (rc *RoomController) roomAndUser(c *gin.Context) (string, string, bool) {
	room := c.Param("room")
	if _, _, ok := models.ParseRoomKey(room); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room key"})
		return "", "", false
	}

	identity, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return "", "", false
	}
	return room, identity.UserID, true
}

// HealthCheck godoc
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{} "Service is up"
// @Router /hc [get]
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
