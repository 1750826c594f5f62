package providers

import (
	"github.com/orchestra-mcp/realtime/src/bridge"
	"github.com/orchestra-mcp/realtime/src/client"
	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/reactor"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/orchestra-mcp/realtime/src/signals"
	"github.com/orchestra-mcp/realtime/src/types"
)

// Compile-time interface assertions.
var (
	_ Provider   = (*RealtimeProvider)(nil)
	_ HasConfig  = (*RealtimeProvider)(nil)
	_ HasRoutes  = (*RealtimeProvider)(nil)
	_ HasActions = (*RealtimeProvider)(nil)

	_ client.Sink            = (*hub.Hub)(nil)
	_ types.Dialer           = (*client.WSDialer)(nil)
	_ reactor.Sender         = (*client.Manager)(nil)
	_ reactor.Sender         = (*service.Service)(nil)
	_ bridge.Bridge          = (*bridge.RedisBridge)(nil)
	_ bridge.BroadcastTarget = (*signals.Bus)(nil)
	_ signals.MessageBridge  = (*bridge.RedisBridge)(nil)
)
