// Package client keeps a local, optimistic view of a chat room in sync with the
// broker. Outgoing messages are shown immediately, dispatched over an ordered list
// of channels, and reconciled with the authoritative copies the broker echoes back.
package client

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrMissingID = errors.New("message without _id")

// Status is the delivery state of an outgoing message.
type Status string

const (
	StatusSending     Status = "sending"
	StatusSentLocally Status = "sent-locally"
	StatusSent        Status = "sent"
	StatusError       Status = "error"
)

// Message is one entry of the visible list. Temporary entries carry a local id
// until an authoritative copy replaces them.
type Message struct {
	ID             string    `json:"_id"`
	ServerID       string    `json:"serverId,omitempty"`
	ClientID       string    `json:"clientId,omitempty"`
	Content        string    `json:"content"`
	Sender         string    `json:"sender"`
	SenderName     string    `json:"senderName,omitempty"`
	ProjectID      string    `json:"projectId,omitempty"`
	TaskID         string    `json:"taskId,omitempty"`
	Room           string    `json:"room,omitempty"`
	Type           string    `json:"type,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Temporary      bool      `json:"temporary,omitempty"`
	Status         Status    `json:"status,omitempty"`
	PersistLocally bool      `json:"persistLocally,omitempty"`
}

// Authoritative reports whether m carries a server-assigned id.
func (m Message) Authoritative() bool {
	return !m.Temporary && m.ServerID != ""
}

// NewTemporary builds an optimistic message with a fresh local id and idempotency key.
func NewTemporary(content, sender, senderName string, now time.Time) Message {
	key := uuid.NewString()
	return Message{
		ID:         "temp-" + key,
		ClientID:   key,
		Content:    content,
		Sender:     sender,
		SenderName: senderName,
		Timestamp:  now,
		Temporary:  true,
		Status:     StatusSending,
	}
}

// ParseAuthoritative decodes a message object as sent by the broker or the REST fallback.
func ParseAuthoritative(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if m.ID == "" {
		return Message{}, ErrMissingID
	}
	return authoritative(m), nil
}

// ParseAuthoritativeList decodes an array of message objects, skipping entries without an id.
func ParseAuthoritativeList(data []byte) ([]Message, error) {
	var raw []Message
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(raw))
	for _, m := range raw {
		if m.ID == "" {
			continue
		}
		out = append(out, authoritative(m))
	}
	return out, nil
}

func authoritative(m Message) Message {
	m.ServerID = m.ID
	m.Temporary = false
	m.PersistLocally = false
	m.Status = StatusSent
	return m
}

// OutgoingMessage is the payload shared by the sendMessage event and the REST fallback.
type OutgoingMessage struct {
	ClientID   string `json:"clientId"`
	Content    string `json:"content"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName,omitempty"`
	ProjectID  string `json:"projectId,omitempty"`
	TaskID     string `json:"taskId,omitempty"`
	Room       string `json:"room"`
	Type       string `json:"type,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Outgoing converts a temporary message into its wire payload.
func (m Message) Outgoing() OutgoingMessage {
	return OutgoingMessage{
		ClientID:   m.ClientID,
		Content:    m.Content,
		Sender:     m.Sender,
		SenderName: m.SenderName,
		ProjectID:  m.ProjectID,
		TaskID:     m.TaskID,
		Room:       m.Room,
		Type:       m.Type,
		Timestamp:  m.Timestamp.UnixMilli(),
	}
}
