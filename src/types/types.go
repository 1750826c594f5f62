package types

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Message kinds understood by the realtime layer.
const (
	KindRoleUpdated    = "role_updated"
	KindPaymentStatus  = "payment_status"
	KindUserPresence   = "user_presence"
	KindUserBanned     = "user_banned"
	KindChatMessage    = "chat_message"
	KindRoomMessage    = "message"
	KindNotification   = "notification"
	KindBroadcast      = "broadcast"
	KindSessionRefresh = "session_refresh"
)

// Message is one decoded realtime event in canonical (unwrapped) form.
type Message struct {
	Type string `json:"type"`
	// Envelope is the outer type when the event arrived wrapped in a
	// notification or broadcast envelope.
	Envelope string          `json:"-"`
	RoomID   string          `json:"room_id,omitempty"`
	UserID   string          `json:"user_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// Get looks a field up in the payload first and falls back to the top level.
func (m Message) Get(key string) gjson.Result {
	if len(m.Payload) > 0 {
		if r := gjson.GetBytes(m.Payload, key); r.Exists() {
			return r
		}
	}
	return gjson.GetBytes(m.Raw, key)
}

// Wrapped reports whether the message arrived inside an envelope.
func (m Message) Wrapped() bool { return m.Envelope != "" }

// NewMessage builds a canonical message of the given kind. The payload is
// JSON encoded; a nil payload is omitted.
func NewMessage(kind string, payload any) (Message, error) {
	body := map[string]any{"type": kind}
	msg := Message{Type: kind}
	if payload != nil {
		p, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = p
		body["payload"] = json.RawMessage(p)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, err
	}
	msg.Raw = raw
	return msg, nil
}

// MessageHandler consumes one message. Handlers run on the delivery goroutine
// and must not block.
type MessageHandler func(msg Message)

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn to a websocket URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
