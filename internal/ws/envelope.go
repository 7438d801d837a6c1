package ws

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Frame types carried in the envelope's type tag. The receiving side
// dispatches on the tag, so every event kind shares one connection.
const (
	TypeChatMessage            = "chat_message"
	TypeError                  = "error"
	TypeNewMessage             = "new_message"
	TypeProfileUpdated         = "profile_updated"
	TypeGrievanceCreated       = "grievance_created"
	TypeGrievanceStatusChanged = "grievance_status_changed"
)

// AdminBroadcastGroup is the role-wide notification group joined by
// privileged identities in addition to their personal group.
const AdminBroadcastGroup = "notify:admin-broadcast"

// ChatGroup names the fan-out group of a conversation.
func ChatGroup(conversationID int64) string {
	return "chat:" + strconv.FormatInt(conversationID, 10)
}

// NotifyGroup names the personal notification group of an identity.
func NotifyGroup(userID int64) string {
	return "notify:" + strconv.FormatInt(userID, 10)
}

// Envelope is the tagged wire format for every server-to-client frame.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Encode serializes the envelope for delivery.
func (e Envelope) Encode() ([]byte, error) {
	frame, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", e.Type, err)
	}
	return frame, nil
}

// UserSummary is the sender block embedded in chat frames.
type UserSummary struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	ProfileImage *string `json:"profile_image"`
}

// ChatMessagePayload is the canonical broadcast shape of a persisted chat
// message. ID and Timestamp always come from the persisted record.
type ChatMessagePayload struct {
	ID        int64       `json:"id"`
	User      UserSummary `json:"user"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// errorFrame is sent to a single offending connection; the connection stays
// open afterwards.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorFrame builds a typed error frame for one connection.
func ErrorFrame(message string) []byte {
	frame, err := json.Marshal(errorFrame{Type: TypeError, Message: message})
	if err != nil {
		// A flat struct of strings cannot fail to marshal.
		return []byte(`{"type":"error","message":"internal error"}`)
	}
	return frame
}
