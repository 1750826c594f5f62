// Package codec turns raw transport frames into canonical messages and
// encodes outbound messages.
//
// The backend may coalesce several JSON objects into one text frame,
// separated by newlines. Each segment is parsed on its own; a malformed
// segment is dropped without affecting its neighbours.
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/tidwall/gjson"
)

// Decode splits a frame on newlines and returns the messages it contains in
// frame order, plus the number of segments that were dropped.
func Decode(frame []byte) (msgs []types.Message, dropped int) {
	for _, seg := range bytes.Split(frame, []byte{'\n'}) {
		seg = bytes.TrimSpace(seg)
		if len(seg) == 0 {
			continue
		}
		msg, ok := Parse(seg)
		if !ok {
			dropped++
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, dropped
}

// Parse decodes a single JSON object into its canonical message. Segments
// that are not valid JSON objects are rejected.
func Parse(seg []byte) (types.Message, bool) {
	if !gjson.ValidBytes(seg) {
		return types.Message{}, false
	}
	root := gjson.ParseBytes(seg)
	if !root.IsObject() {
		return types.Message{}, false
	}
	return Normalize(root), true
}

// Normalize unwraps one level of notification/broadcast envelope. The inner
// payload becomes the canonical message when it is an object carrying its
// own string type; otherwise the outer object is kept as is.
func Normalize(root gjson.Result) types.Message {
	outer := root.Get("type").String()
	if outer == types.KindNotification || outer == types.KindBroadcast {
		inner := root.Get("payload")
		if inner.IsObject() {
			if t := inner.Get("type"); t.Type == gjson.String && t.Str != "" {
				msg := fromObject(inner)
				msg.Envelope = outer
				if msg.RoomID == "" {
					msg.RoomID = root.Get("room_id").String()
				}
				if msg.UserID == "" {
					msg.UserID = root.Get("user_id").String()
				}
				return msg
			}
		}
	}
	return fromObject(root)
}

func fromObject(obj gjson.Result) types.Message {
	msg := types.Message{
		Type:   obj.Get("type").String(),
		RoomID: obj.Get("room_id").String(),
		UserID: obj.Get("user_id").String(),
		Raw:    json.RawMessage(obj.Raw),
	}
	if p := obj.Get("payload"); p.Exists() && p.Type != gjson.Null {
		msg.Payload = json.RawMessage(p.Raw)
	}
	return msg
}

// Encode serialises an outbound message into one frame. A types.Message is
// sent as its raw object; anything else is JSON encoded verbatim.
func Encode(v any) ([]byte, error) {
	if m, ok := v.(types.Message); ok && len(m.Raw) > 0 {
		return m.Raw, nil
	}
	return json.Marshal(v)
}
