package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/bridge"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/rs/zerolog"
)

// RealtimeProvider owns the realtime session scope of the logged-in user.
type RealtimeProvider struct {
	cfg    *config.ClientConfig
	deps   service.Deps
	logger zerolog.Logger

	mu      sync.RWMutex
	active  bool
	service *service.Service
	bridge  bridge.Bridge
}

// NewRealtimeProvider creates a provider. Nothing runs until Activate.
func NewRealtimeProvider(cfg *config.ClientConfig, deps service.Deps, logger zerolog.Logger) *RealtimeProvider {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &RealtimeProvider{cfg: cfg, deps: deps, logger: logger}
}

func (p *RealtimeProvider) ID() string        { return "orchestra/realtime" }
func (p *RealtimeProvider) Name() string      { return "Realtime" }
func (p *RealtimeProvider) Version() string   { return "0.1.0" }
func (p *RealtimeProvider) ConfigKey() string { return "realtime" }

func (p *RealtimeProvider) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

func (p *RealtimeProvider) DefaultConfig() map[string]any {
	d := config.DefaultConfig()
	return map[string]any{
		"endpoint":               d.Endpoint,
		"ws_path":                d.WSPath,
		"max_reconnect_attempts": d.MaxReconnectAttempts,
		"reconnect_base_delay":   d.ReconnectBaseDelay.String(),
		"reconnect_max_delay":    d.ReconnectMaxDelay.String(),
		"refresh_debounce":       d.RefreshDebounce.String(),
		"presence_page_size":     d.PresencePageSize,
	}
}

// Activate builds the session scope, attaches the signal bridge when
// enabled and starts the connection.
func (p *RealtimeProvider) Activate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return nil
	}
	if err := p.cfg.Validate(); err != nil {
		return fmt.Errorf("realtime config: %w", err)
	}

	p.service = service.New(p.cfg, p.deps, p.logger)
	if p.cfg.RedisBridge {
		p.initBridge()
	}
	if err := p.service.Start(ctx); err != nil {
		p.service.Dispose()
		p.service = nil
		p.stopBridge()
		return fmt.Errorf("start realtime: %w", err)
	}

	p.active = true
	p.logger.Info().Str("provider", p.ID()).Msg("realtime provider activated")
	return nil
}

// initBridge tries to start the Redis signal bridge. If Redis is not
// reachable, signals stay process-local.
func (p *RealtimeProvider) initBridge() {
	cfg := bridge.RedisConfigFromEnv()
	rb := bridge.NewRedisBridge(cfg, p.service.Signals(), p.logger)

	if err := rb.Start(); err != nil {
		_ = rb.Stop()
		p.logger.Warn().Err(err).Msg("redis bridge unavailable, signals stay local")
		return
	}

	p.bridge = rb
	p.service.Signals().SetBridge(rb)
	p.logger.Info().Str("redis_addr", cfg.Addr).Msg("redis bridge connected")
}

func (p *RealtimeProvider) stopBridge() {
	if p.bridge == nil {
		return
	}
	if err := p.bridge.Stop(); err != nil {
		p.logger.Error().Err(err).Msg("bridge stop error")
	}
	p.bridge = nil
}

// Deactivate disposes the session scope. Safe to call when inactive.
func (p *RealtimeProvider) Deactivate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.service != nil {
		p.service.Signals().SetBridge(nil)
	}
	p.stopBridge()
	if p.service != nil {
		p.service.Dispose()
		p.service = nil
	}
	if p.active {
		p.logger.Info().Str("provider", p.ID()).Msg("realtime provider deactivated")
	}
	p.active = false
	return nil
}

// SetCredential forwards a login, logout or token rotation to the session.
func (p *RealtimeProvider) SetCredential(token string) error {
	svc := p.Service()
	if svc == nil {
		return errInactive
	}
	return svc.SetCredential(token)
}

// Service returns the active session scope, or nil.
func (p *RealtimeProvider) Service() *service.Service {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.service
}
