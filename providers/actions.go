package providers

import (
	"errors"
	"fmt"

	"github.com/orchestra-mcp/realtime/src/client"
)

var errInactive = errors.New("realtime provider not active")

// Actions returns the operator actions contributed by the provider.
func (p *RealtimeProvider) Actions() []Action {
	return []Action{
		{
			Name:        "realtime_status",
			Description: "Show connection state and delivery counters",
			InputSchema: map[string]any{},
			Handler:     p.actionStatus,
		},
		{
			Name:        "realtime_send",
			Description: "Send a JSON message over the realtime socket",
			InputSchema: map[string]any{
				"message": map[string]any{"type": "object", "description": "Message to send"},
			},
			Handler: p.actionSend,
		},
		{
			Name:        "realtime_refresh",
			Description: "Request a session refresh",
			InputSchema: map[string]any{},
			Handler:     p.actionRefresh,
		},
		{
			Name:        "realtime_presence",
			Description: "List online users",
			InputSchema: map[string]any{},
			Handler:     p.actionPresence,
		},
		{
			Name:        "realtime_ban",
			Description: "Show the current ban state",
			InputSchema: map[string]any{},
			Handler:     p.actionBan,
		},
	}
}

func (p *RealtimeProvider) actionStatus(_ map[string]any) (any, error) {
	svc := p.Service()
	if svc == nil {
		return nil, errInactive
	}
	return svc.Status(), nil
}

func (p *RealtimeProvider) actionSend(input map[string]any) (any, error) {
	svc := p.Service()
	if svc == nil {
		return nil, errInactive
	}
	msg, _ := input["message"].(map[string]any)
	if msg == nil {
		return nil, fmt.Errorf("message is required")
	}
	if _, ok := msg["type"].(string); !ok {
		return nil, fmt.Errorf("message.type is required")
	}
	err := svc.TrySend(msg)
	if errors.Is(err, client.ErrNotConnected) {
		return map[string]any{"sent": false}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"sent": true}, nil
}

func (p *RealtimeProvider) actionRefresh(_ map[string]any) (any, error) {
	svc := p.Service()
	if svc == nil {
		return nil, errInactive
	}
	svc.Signals().RequestRefresh()
	return map[string]any{"requested": true}, nil
}

func (p *RealtimeProvider) actionPresence(_ map[string]any) (any, error) {
	svc := p.Service()
	if svc == nil {
		return nil, errInactive
	}
	return svc.Presence().Snapshot(), nil
}

func (p *RealtimeProvider) actionBan(_ map[string]any) (any, error) {
	svc := p.Service()
	if svc == nil {
		return nil, errInactive
	}
	return svc.Ban().View(), nil
}
