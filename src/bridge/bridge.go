package bridge

import "github.com/orchestra-mcp/realtime/src/types"

// Bridge relays session signals between processes that share a session,
// for example two clients logged in as the same user on one machine.
type Bridge interface {
	// Publish sends a signal to all other processes via the bridge.
	Publish(msg types.Message) error

	// Start begins listening for signals from other processes.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the signal bus to receive relayed signals.
type BroadcastTarget interface {
	BroadcastToLocal(msg types.Message)
}
