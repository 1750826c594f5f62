package hub

import (
	"sync"
	"sync/atomic"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// Hub is the subscription registry. Every published message is handed to
// every registered handler, synchronously and in registration order.
type Hub struct {
	subs   []*Subscription
	nextID uint64

	delivered atomic.Uint64
	panics    atomic.Uint64

	mu     sync.RWMutex
	logger zerolog.Logger
}

// Subscription is a registered handler. Its identity is fixed at
// registration; the callback it runs can be swapped with Update so owners
// that rebuild their closures keep a single registration.
type Subscription struct {
	id   uint64
	hub  *Hub
	cell atomic.Pointer[types.MessageHandler]
	once sync.Once
}

// New creates an empty Hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{logger: logger}
}

// Subscribe registers fn and returns a function removing exactly that
// registration. Calling the returned function more than once is harmless.
func (h *Hub) Subscribe(fn types.MessageHandler) (unsubscribe func()) {
	return h.Register(fn).Unsubscribe
}

// Register adds a handler and returns its subscription.
func (h *Hub) Register(fn types.MessageHandler) *Subscription {
	s := &Subscription{hub: h}
	s.Update(fn)

	h.mu.Lock()
	h.nextID++
	s.id = h.nextID
	h.subs = append(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug().Uint64("subscription", s.id).Int("subscribers", n).Msg("handler registered")
	return s
}

// ID returns the registry-assigned identifier.
func (s *Subscription) ID() uint64 { return s.id }

// Update replaces the callback invoked for this subscription.
func (s *Subscription) Update(fn types.MessageHandler) {
	if fn == nil {
		s.cell.Store(nil)
		return
	}
	s.cell.Store(&fn)
}

// Unsubscribe removes this subscription from its hub.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.hub.remove(s) })
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	for i, sub := range h.subs {
		if sub == s {
			// Copy instead of shifting in place: a delivery pass may still
			// hold the previous slice.
			next := make([]*Subscription, 0, len(h.subs)-1)
			next = append(next, h.subs[:i]...)
			h.subs = append(next, h.subs[i+1:]...)
			break
		}
	}
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug().Uint64("subscription", s.id).Int("subscribers", n).Msg("handler removed")
}
