package websocket

// Client to server events.
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
	EventNewComment  = "newComment"
	EventGetMessages = "getMessages"
)

// Server to client events.
const (
	EventMessages        = "messages"
	EventProjectMessages = "projectMessages"
	EventMessage         = "message"
	EventCommentAdded    = "commentAdded"
	EventActivityUpdated = "activityUpdated"
	EventError           = "error"
)

// ErrorPayload is the payload of an "error" event.
type ErrorPayload struct {
	Message string `json:"message"`
}
