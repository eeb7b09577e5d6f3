package models

import (
	"time"

	"github.com/tidwall/gjson"
)

// DecodeMessage reads a message payload leniently: ids may be numbers or
// strings and the timestamp may be epoch milliseconds or RFC 3339.
// The room is derived before returning.
func DecodeMessage(payload []byte) *Message {
	fields := gjson.GetManyBytes(payload,
		"content", "sender", "senderName", "projectId", "taskId", "room", "type", "clientId", "timestamp")

	msg := &Message{
		Content:    fields[0].String(),
		Sender:     fields[1].String(),
		SenderName: fields[2].String(),
		ProjectID:  fields[3].String(),
		TaskID:     fields[4].String(),
		Room:       fields[5].String(),
		Type:       fields[6].String(),
		ClientID:   fields[7].String(),
		Timestamp:  parseTimestamp(fields[8]),
	}
	msg.DeriveRoom()
	return msg
}

func parseTimestamp(res gjson.Result) time.Time {
	switch res.Type {
	case gjson.Number:
		return time.UnixMilli(res.Int())
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, res.Str); err == nil {
			return t
		}
	}
	return time.Time{}
}
