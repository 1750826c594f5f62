// Package service is the session scope: one Service per logged-in user,
// owning the connection, the subscription registry, the signal bus and the
// reactors built on top of them.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/client"
	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/reactor"
	"github.com/orchestra-mcp/realtime/src/signals"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// ErrDisposed is returned by operations on a disposed Service.
var ErrDisposed = errors.New("realtime: service disposed")

// roomLogLines bounds the room chat panel.
const roomLogLines = 200

// Deps are the collaborators a Service needs from the application. Only
// Store is required.
type Deps struct {
	Store     reactor.SessionStore
	Presence  reactor.PresenceAPI
	Profile   reactor.ProfileAPI
	Dialer    types.Dialer
	Scheduler client.Scheduler
	Now       func() time.Time
}

// Status summarises the session for status surfaces.
type Status struct {
	State       string `json:"state"`
	Connected   bool   `json:"connected"`
	Attempts    int    `json:"attempts"`
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
	Panics      uint64 `json:"panics"`
	Listeners   int    `json:"signal_listeners"`
	OnlineTotal int    `json:"online_total"`
	Banned      bool   `json:"banned"`
	Refreshes   int64  `json:"refreshes"`
}

// Service wires the realtime layer for one session.
type Service struct {
	cfg    *config.ClientConfig
	store  reactor.SessionStore
	logger zerolog.Logger

	hub       *hub.Hub
	bus       *signals.Bus
	manager   *client.Manager
	refresher *reactor.SessionRefresher
	presence  *reactor.PresenceTracker
	ban       *reactor.BanWatcher
	chat      *reactor.ChatThread
	rooms     *reactor.RoomLog

	mu          sync.Mutex
	started     bool
	disposed    bool
	token       string
	unsubscribe []func()
	runDone     chan struct{}
}

// New builds the session scope. Nothing connects until Start.
func New(cfg *config.ClientConfig, deps Deps, logger zerolog.Logger) *Service {
	l := logger.With().Str("component", "realtime").Logger()

	dialer := deps.Dialer
	if dialer == nil {
		dialer = client.NewWSDialer(cfg)
	}
	var opts []client.Option
	if deps.Scheduler != nil {
		opts = append(opts, client.WithScheduler(deps.Scheduler))
	}

	h := hub.New(logger.With().Str("component", "hub").Logger())
	bus := signals.New(logger)
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		logger:    l,
		hub:       h,
		bus:       bus,
		manager:   client.New(cfg, dialer, h, logger, opts...),
		refresher: reactor.NewSessionRefresher(deps.Store, bus, reactor.NewDebouncer(cfg.RefreshDebounce, cfg.DebounceMaxKeys, deps.Now), logger),
		presence:  reactor.NewPresenceTracker(deps.Presence, cfg.PresencePageSize, logger),
		ban:       reactor.NewBanWatcher(deps.Profile, cfg.BanTickInterval, deps.Now, logger),
		chat:      reactor.NewChatThread(logger),
		runDone:   make(chan struct{}),
	}
	s.rooms = reactor.NewRoomLog(s.manager, roomLogLines)

	s.unsubscribe = []func(){
		h.Subscribe(s.refresher.Handle),
		h.Subscribe(s.presence.Handle),
		h.Subscribe(s.ban.Handle),
		h.Subscribe(s.chat.Handle),
		h.Subscribe(s.rooms.Handle),
		bus.On(types.KindSessionRefresh, s.refresher.OnSignal),
		bus.On(types.KindUserBanned, s.ban.Handle),
	}
	return s
}

// Start runs the connection loop, connects with the current credential and
// loads the initial presence and ban state. Failures of the initial loads
// are logged; the socket keeps them up to date afterwards.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	token := s.token
	if token == "" && s.store != nil {
		token = s.store.AccessToken()
		s.token = token
	}
	s.mu.Unlock()

	go func() {
		defer close(s.runDone)
		s.manager.Run()
	}()

	if token != "" {
		if err := s.manager.Connect(token); err != nil {
			return err
		}
	}
	if err := s.ban.Sync(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial ban sync failed")
	}
	if err := s.presence.Load(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial presence load failed")
	}
	s.logger.Info().Bool("authenticated", token != "").Msg("realtime started")
	return nil
}

// SetCredential applies a new access token. An empty token tears the
// connection down; a different token rebuilds it.
func (s *Service) SetCredential(token string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.token = token
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	if token == "" {
		s.manager.Teardown()
		return nil
	}
	return s.manager.Connect(token)
}

// Send writes v to the socket if it is open. See client.Manager.Send.
func (s *Service) Send(v any) { s.manager.Send(v) }

// TrySend is Send with the outcome reported.
func (s *Service) TrySend(v any) error { return s.manager.TrySend(v) }

// Subscribe registers a handler for every inbound message.
func (s *Service) Subscribe(fn types.MessageHandler) (unsubscribe func()) {
	return s.hub.Subscribe(fn)
}

// Register registers a handler whose callback can be replaced later.
func (s *Service) Register(fn types.MessageHandler) *hub.Subscription {
	return s.hub.Register(fn)
}

// Signals returns the same-process signal bus.
func (s *Service) Signals() *signals.Bus { return s.bus }

// Manager returns the connection manager.
func (s *Service) Manager() *client.Manager { return s.manager }

// Presence returns the online users tracker.
func (s *Service) Presence() *reactor.PresenceTracker { return s.presence }

// Ban returns the ban watcher.
func (s *Service) Ban() *reactor.BanWatcher { return s.ban }

// Chat returns the direct message thread.
func (s *Service) Chat() *reactor.ChatThread { return s.chat }

// Rooms returns the room chat log.
func (s *Service) Rooms() *reactor.RoomLog { return s.rooms }

// Status returns a snapshot of the session.
func (s *Service) Status() Status {
	stats := s.hub.Stats()
	state := s.manager.State()
	return Status{
		State:       state.String(),
		Connected:   state == client.StateConnected,
		Attempts:    s.manager.Attempts(),
		Subscribers: stats.Subscribers,
		Delivered:   stats.Delivered,
		Panics:      stats.Panics,
		Listeners:   s.bus.Listeners(),
		OnlineTotal: s.presence.Snapshot().Total,
		Banned:      s.ban.View().Banned,
		Refreshes:   s.refresher.Refreshes(),
	}
}

// Dispose tears everything down. Safe to call more than once.
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	started := s.started
	unsubs := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	s.manager.Stop()
	if started {
		<-s.runDone
	}
	s.refresher.Close()
	s.presence.Close()
	s.ban.Close()
	s.logger.Info().Msg("realtime disposed")
}
