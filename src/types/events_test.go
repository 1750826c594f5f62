package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func message(t *testing.T, kind string, payload any) Message {
	t.Helper()
	msg, err := NewMessage(kind, payload)
	require.NoError(t, err)
	return msg
}

func TestParsePaymentStatus(t *testing.T) {
	ev := Parse(message(t, KindPaymentStatus, map[string]any{"order_id": 42, "status": "success"}))

	pay, ok := ev.(PaymentStatus)
	require.True(t, ok)
	assert.Equal(t, "42", pay.OrderID)
	assert.True(t, pay.Succeeded())
}

func TestParsePresence(t *testing.T) {
	ev := Parse(message(t, KindUserPresence, map[string]any{"user_id": "u1", "online": false}))

	assert.Equal(t, UserPresence{UserID: "u1", Online: false}, ev)
}

func TestParseBanReadsTimestamp(t *testing.T) {
	until := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := Parse(message(t, KindUserBanned, map[string]any{
		"reason":       "spam",
		"banned_until": until.Format(time.RFC3339),
	}))

	ban, ok := ev.(UserBanned)
	require.True(t, ok)
	assert.Equal(t, "spam", ban.Reason)
	assert.True(t, until.Equal(ban.BannedUntil))
}

func TestParseChatMessageFallsBackToMessageField(t *testing.T) {
	ev := Parse(message(t, KindChatMessage, map[string]any{
		"id": 5, "sender_id": "a", "receiver_id": "b", "message": "yo",
	}))

	chat, ok := ev.(ChatMessage)
	require.True(t, ok)
	assert.Equal(t, "5", chat.ID)
	assert.Equal(t, "yo", chat.Content)
}

func TestParseUnknown(t *testing.T) {
	ev := Parse(Message{Type: "poll_closed"})
	assert.Equal(t, Unknown{Type: "poll_closed"}, ev)
	assert.Equal(t, "poll_closed", ev.Kind())
}

func TestParseTime(t *testing.T) {
	assert.Equal(t, int64(1700000000), ParseTime(gjson.Parse(`1700000000`)).Unix())
	assert.True(t, ParseTime(gjson.Parse(`"garbage"`)).IsZero())
	assert.True(t, ParseTime(gjson.Parse(`null`)).IsZero())
}

func TestGetPrefersPayload(t *testing.T) {
	msg := Message{
		Raw:     []byte(`{"type":"x","user_id":"outer","payload":{"user_id":"inner"}}`),
		Payload: []byte(`{"user_id":"inner"}`),
	}
	assert.Equal(t, "inner", msg.Get("user_id").String())

	msg.Payload = nil
	assert.Equal(t, "outer", msg.Get("user_id").String())
}
