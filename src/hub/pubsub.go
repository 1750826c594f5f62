package hub

import (
	"github.com/orchestra-mcp/realtime/src/types"
)

// Publish delivers msg to every handler registered when the call started.
// A handler that unsubscribes itself or another handler does not change who
// receives msg; the change applies from the next Publish on.
func (h *Hub) Publish(msg types.Message) {
	h.mu.RLock()
	subs := h.subs
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, msg)
	}
}

// PublishAll delivers messages one after another, preserving order.
func (h *Hub) PublishAll(msgs []types.Message) {
	for _, msg := range msgs {
		h.Publish(msg)
	}
}

// deliver runs one handler with its own panic containment so a failing
// subscriber never blocks the rest of the pass.
func (h *Hub) deliver(s *Subscription, msg types.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.panics.Add(1)
			h.logger.Error().
				Interface("panic", r).
				Uint64("subscription", s.id).
				Str("type", msg.Type).
				Msg("handler panic")
		}
	}()

	fn := s.cell.Load()
	if fn == nil {
		return
	}
	h.delivered.Add(1)
	(*fn)(msg)
}
