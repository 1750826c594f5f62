package reactor

import (
	"sync"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// ChatThread is the visible direct-message conversation.
type ChatThread struct {
	logger zerolog.Logger

	mu       sync.Mutex
	selfID   string
	peerID   string
	messages []types.ChatMessage
	ids      map[string]struct{}
	onAppend []func(types.ChatMessage)
}

// NewChatThread creates a thread with no conversation open.
func NewChatThread(logger zerolog.Logger) *ChatThread {
	return &ChatThread{
		logger: logger.With().Str("component", "chat").Logger(),
		ids:    make(map[string]struct{}),
	}
}

// Open shows the conversation between selfID and peerID, seeded with
// history already fetched over REST.
func (c *ChatThread) Open(selfID, peerID string, history []types.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfID = selfID
	c.peerID = peerID
	c.messages = nil
	c.ids = make(map[string]struct{}, len(history))
	for _, m := range history {
		c.appendLocked(m)
	}
}

// Close hides the conversation.
func (c *ChatThread) Close() {
	c.Open("", "", nil)
}

// OnAppend registers an observer for newly appended messages.
func (c *ChatThread) OnAppend(fn func(types.ChatMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAppend = append(c.onAppend, fn)
}

// Handle consumes socket messages, including chat messages delivered inside
// a notification envelope.
func (c *ChatThread) Handle(msg types.Message) {
	ev, ok := types.Parse(msg).(types.ChatMessage)
	if !ok {
		return
	}
	c.Append(ev)
}

// Append adds m if it belongs to the open conversation and is not already
// shown. It reports whether m was added.
func (c *ChatThread) Append(m types.ChatMessage) bool {
	c.mu.Lock()
	if !c.belongsLocked(m) || !c.appendLocked(m) {
		c.mu.Unlock()
		return false
	}
	observers := c.onAppend
	c.mu.Unlock()

	for _, fn := range observers {
		fn(m)
	}
	return true
}

// Messages returns a copy of the visible thread.
func (c *ChatThread) Messages() []types.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ChatMessage(nil), c.messages...)
}

func (c *ChatThread) belongsLocked(m types.ChatMessage) bool {
	if c.selfID == "" || c.peerID == "" {
		return false
	}
	return (m.SenderID == c.peerID && m.ReceiverID == c.selfID) ||
		(m.SenderID == c.selfID && m.ReceiverID == c.peerID)
}

func (c *ChatThread) appendLocked(m types.ChatMessage) bool {
	if m.ID != "" {
		if _, dup := c.ids[m.ID]; dup {
			c.logger.Debug().Str("id", m.ID).Msg("duplicate chat message skipped")
			return false
		}
		c.ids[m.ID] = struct{}{}
	}
	c.messages = append(c.messages, m)
	return true
}

// RoomLog is the chat panel of a room the user has joined.
type RoomLog struct {
	sender   Sender
	maxLines int

	mu       sync.Mutex
	roomID   string
	userID   string
	userName string
	lines    []types.RoomMessage
}

// NewRoomLog creates a room log keeping at most maxLines lines (0 keeps all).
func NewRoomLog(sender Sender, maxLines int) *RoomLog {
	return &RoomLog{sender: sender, maxLines: maxLines}
}

// Join switches the log to roomID.
func (r *RoomLog) Join(roomID, userID, userName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roomID, r.userID, r.userName = roomID, userID, userName
	r.lines = nil
}

// Leave empties the log.
func (r *RoomLog) Leave() { r.Join("", "", "") }

// Handle consumes socket messages for the joined room.
func (r *RoomLog) Handle(msg types.Message) {
	ev, ok := types.Parse(msg).(types.RoomMessage)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roomID == "" || ev.RoomID != r.roomID {
		return
	}
	r.lines = append(r.lines, ev)
	if r.maxLines > 0 && len(r.lines) > r.maxLines {
		r.lines = append([]types.RoomMessage(nil), r.lines[len(r.lines)-r.maxLines:]...)
	}
}

// Post sends a chat line to the joined room. The server echoes it back,
// so nothing is appended locally. It reports false when no room is joined.
func (r *RoomLog) Post(content string) bool {
	r.mu.Lock()
	roomID, userID, userName := r.roomID, r.userID, r.userName
	r.mu.Unlock()

	if roomID == "" || content == "" {
		return false
	}
	r.sender.Send(map[string]any{
		"room_id": roomID,
		"user_id": userID,
		"type":    types.KindRoomMessage,
		"payload": map[string]any{
			"content":   content,
			"user_name": userName,
		},
	})
	return true
}

// Lines returns a copy of the room log.
func (r *RoomLog) Lines() []types.RoomMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.RoomMessage(nil), r.lines...)
}
