package types

import (
	"time"

	"github.com/tidwall/gjson"
)

// Event is the typed view of a Message. The concrete type tells which kind
// of event arrived; Unknown carries everything the layer does not interpret.
type Event interface {
	Kind() string
}

// RoleUpdated signals that the current user's role changed server side.
type RoleUpdated struct {
	UserID string
	Role   string
}

// PaymentStatus reports the outcome of a payment for an order.
type PaymentStatus struct {
	OrderID string
	Status  string
}

// Succeeded reports whether the payment completed.
func (p PaymentStatus) Succeeded() bool { return p.Status == "success" }

// UserPresence reports a user going online or offline.
type UserPresence struct {
	UserID string
	Online bool
}

// UserBanned carries a ban applied to the current user.
type UserBanned struct {
	UserID      string
	Reason      string
	BannedUntil time.Time
}

// ChatMessage is a direct message between two users.
type ChatMessage struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	CreatedAt  time.Time
}

// RoomMessage is a chat line posted in a video/chat room.
type RoomMessage struct {
	RoomID   string
	UserID   string
	UserName string
	Content  string
}

// SessionRefresh asks for the session data to be reloaded.
type SessionRefresh struct{}

// Unknown is any message kind not interpreted here.
type Unknown struct {
	Type string
}

func (RoleUpdated) Kind() string    { return KindRoleUpdated }
func (PaymentStatus) Kind() string  { return KindPaymentStatus }
func (UserPresence) Kind() string   { return KindUserPresence }
func (UserBanned) Kind() string     { return KindUserBanned }
func (ChatMessage) Kind() string    { return KindChatMessage }
func (RoomMessage) Kind() string    { return KindRoomMessage }
func (SessionRefresh) Kind() string { return KindSessionRefresh }
func (u Unknown) Kind() string      { return u.Type }

// Parse converts a canonical message into its typed event.
func Parse(m Message) Event {
	switch m.Type {
	case KindRoleUpdated:
		return RoleUpdated{
			UserID: firstString(m, "user_id"),
			Role:   m.Get("role").String(),
		}
	case KindPaymentStatus:
		return PaymentStatus{
			OrderID: m.Get("order_id").String(),
			Status:  m.Get("status").String(),
		}
	case KindUserPresence:
		return UserPresence{
			UserID: firstString(m, "user_id"),
			Online: m.Get("online").Bool(),
		}
	case KindUserBanned:
		return UserBanned{
			UserID:      firstString(m, "user_id"),
			Reason:      m.Get("reason").String(),
			BannedUntil: ParseTime(m.Get("banned_until")),
		}
	case KindChatMessage:
		content := m.Get("content").String()
		if content == "" {
			content = m.Get("message").String()
		}
		return ChatMessage{
			ID:         m.Get("id").String(),
			SenderID:   m.Get("sender_id").String(),
			ReceiverID: m.Get("receiver_id").String(),
			Content:    content,
			CreatedAt:  ParseTime(m.Get("created_at")),
		}
	case KindRoomMessage:
		return RoomMessage{
			RoomID:   firstNonEmpty(m.RoomID, m.Get("room_id").String()),
			UserID:   firstNonEmpty(m.UserID, m.Get("user_id").String()),
			UserName: m.Get("user_name").String(),
			Content:  m.Get("content").String(),
		}
	case KindSessionRefresh:
		return SessionRefresh{}
	default:
		return Unknown{Type: m.Type}
	}
}

// ParseTime accepts RFC 3339 strings and unix seconds. Anything else yields
// the zero time.
func ParseTime(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.Number:
		return time.Unix(r.Int(), 0)
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, r.Str); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstString(m Message, key string) string {
	if v := m.Get(key).String(); v != "" {
		return v
	}
	return m.UserID
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
