// Package signals carries same-process requests between parts of the
// application that should not import the websocket layer: a session refresh
// request and a ban notice raised by the REST error path.
package signals

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// MessageBridge mirrors signals to other processes of the same session.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(msg types.Message) error
	Available() bool
}

// Bus is a named-signal dispatcher. Signals are ordinary messages so that a
// ban raised locally and a ban pushed over the socket take the same path.
type Bus struct {
	hub    *hub.Hub
	bridge MessageBridge
	mu     sync.RWMutex
	logger zerolog.Logger
}

// New creates a Bus with no bridge attached.
func New(logger zerolog.Logger) *Bus {
	l := logger.With().Str("component", "signals").Logger()
	return &Bus{hub: hub.New(l), logger: l}
}

// SetBridge attaches a cross-process bridge.
func (b *Bus) SetBridge(br MessageBridge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bridge = br
}

// Emit delivers a signal to local listeners and forwards it to the bridge.
func (b *Bus) Emit(msg types.Message) {
	b.hub.Publish(msg)
	b.publishToBridge(msg)
}

// BroadcastToLocal delivers a signal received from the bridge to local
// listeners only. It is never re-published.
func (b *Bus) BroadcastToLocal(msg types.Message) {
	b.hub.Publish(msg)
}

// On registers fn for signals of the given kind.
func (b *Bus) On(kind string, fn types.MessageHandler) (unsubscribe func()) {
	return b.hub.Subscribe(func(msg types.Message) {
		if msg.Type == kind {
			fn(msg)
		}
	})
}

// RequestRefresh asks whoever owns the session to reload it.
func (b *Bus) RequestRefresh() {
	msg, _ := types.NewMessage(types.KindSessionRefresh, nil)
	b.Emit(msg)
}

// ReportBan raises a ban notice, typically from an HTTP response that
// indicated the account is banned.
func (b *Bus) ReportBan(reason string, until time.Time) {
	msg, err := types.NewMessage(types.KindUserBanned, map[string]any{
		"reason":       reason,
		"banned_until": until.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("encode ban signal")
		return
	}
	b.Emit(msg)
}

// Listeners returns the number of registered listeners.
func (b *Bus) Listeners() int { return b.hub.Len() }

func (b *Bus) publishToBridge(msg types.Message) {
	b.mu.RLock()
	br := b.bridge
	b.mu.RUnlock()

	if br == nil || !br.Available() {
		return
	}
	if err := br.Publish(msg); err != nil {
		b.logger.Error().Err(err).Str("type", msg.Type).Msg("bridge publish failed")
	}
}
