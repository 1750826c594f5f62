// Package client owns the websocket connection of one authenticated session.
//
// All connection state is mutated on a single event loop (Run). Transport
// callbacks, reconnect timers and caller requests are queued as events and
// handled in arrival order, so frames are decoded and delivered strictly in
// the order the transport produced them. Delivery to the sink and to state
// observers happens on a separate goroutine, in the same order, so handlers
// may call back into the Manager.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/codec"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConnected is returned by TrySend while no socket is open.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrStopped is returned once the manager loop has been stopped.
	ErrStopped = errors.New("realtime: manager stopped")
)

// Sink receives decoded messages on the delivery goroutine. *hub.Hub
// satisfies it.
type Sink interface {
	PublishAll(msgs []types.Message)
}

type eventKind int

const (
	evConnect eventKind = iota
	evTeardown
	evOpen
	evFrame
	evError
	evClose
	evReconnect
)

type event struct {
	kind     eventKind
	gen      uint64
	token    string
	endpoint string
	conn     types.Conn
	data     []byte
	err      error
	ack      chan struct{}
}

// Manager is the connection manager.
type Manager struct {
	cfg       *config.ClientConfig
	dialer    types.Dialer
	sink      Sink
	scheduler Scheduler
	logger    zerolog.Logger

	events   chan event
	dispatch *dispatcher
	epoch    atomic.Uint64
	done     chan struct{}
	exited   chan struct{}
	running  atomic.Bool
	stopOnce sync.Once

	// Owned by the loop goroutine.
	token       string
	endpoint    string
	gen         uint64
	backoff     *backoff.ExponentialBackOff
	stopTimer   func() bool
	cancelDial  context.CancelFunc
	attemptsRaw int

	// Shared with senders and observers.
	mu        sync.RWMutex
	sock      *socket
	state     State
	attempts  atomic.Int32
	observers []func(State)
}

// Option customises a Manager.
type Option func(*Manager)

// WithScheduler replaces the timer used for reconnect delays.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// New creates a Manager. Call Run in a goroutine before connecting.
func New(cfg *config.ClientConfig, dialer types.Dialer, sink Sink, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		dialer:    dialer,
		sink:      sink,
		scheduler: timerScheduler{},
		logger:    logger.With().Str("component", "connection").Logger(),
		events:    make(chan event, 256),
		dispatch:  newDispatcher(),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		backoff:   newReconnectBackoff(cfg),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts the event loop. Call in a goroutine.
func (m *Manager) Run() {
	m.running.Store(true)
	defer close(m.exited)
	go m.dispatch.run(m.exited)

	for {
		select {
		case ev := <-m.events:
			m.handle(ev)
			if ev.ack != nil {
				close(ev.ack)
			}
		case <-m.done:
			m.teardown()
			m.setState(StateClosed)
			return
		}
	}
}

// Stop tears the connection down and halts the loop. Safe to call more
// than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		if m.running.Load() {
			<-m.exited
		}
		m.logger.Info().Msg("connection manager stopped")
	})
}

// Connect opens a connection for token against the configured endpoint.
func (m *Manager) Connect(token string) error {
	return m.ConnectTo(token, m.cfg.Endpoint)
}

// ConnectTo opens a connection for token against endpoint. It does nothing
// when a socket for the same credential is already open; a socket that is
// still connecting is discarded and dialed again.
func (m *Manager) ConnectTo(token, endpoint string) error {
	return m.request(event{kind: evConnect, token: token, endpoint: endpoint})
}

// Teardown closes the socket, cancels any pending reconnect and forgets the
// credential. Safe to call any number of times, including after Stop.
func (m *Manager) Teardown() {
	_ = m.request(event{kind: evTeardown})
}

// IsConnected reports whether the socket is open.
func (m *Manager) IsConnected() bool { return m.State() == StateConnected }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attempts returns the number of automatic reconnects scheduled since the
// last successful open.
func (m *Manager) Attempts() int { return int(m.attempts.Load()) }

// OnStateChange registers an observer. Observers run on the delivery
// goroutine in transition order and may call Connect or Teardown.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// request posts an event and waits until the loop has handled it.
func (m *Manager) request(ev event) error {
	ev.ack = make(chan struct{})
	if !m.post(ev) {
		return ErrStopped
	}
	select {
	case <-ev.ack:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

// post queues an event. It reports false once the loop is stopping.
func (m *Manager) post(ev event) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) handle(ev event) {
	switch ev.kind {
	case evConnect:
		m.handleConnect(ev.token, ev.endpoint)
	case evTeardown:
		m.teardown()
	case evOpen:
		m.handleOpen(ev.gen, ev.conn)
	case evFrame:
		m.handleFrame(ev.gen, ev.data)
	case evError:
		m.handleError(ev.gen, ev.err)
	case evClose:
		m.handleClose(ev.gen, ev.err)
	case evReconnect:
		m.handleReconnect(ev.gen)
	}
}

func (m *Manager) handleConnect(token, endpoint string) {
	if token == "" {
		m.logger.Debug().Msg("connect without credential ignored")
		return
	}
	if m.State() == StateConnected && token == m.token && endpoint == m.endpoint {
		return
	}
	if token != m.token && m.token != "" {
		m.logger.Info().Msg("credential changed, rebuilding connection")
		m.teardown()
	}
	m.token = token
	m.endpoint = endpoint
	m.cancelReconnect()
	m.dropSocket()
	m.dial()
}

// dial starts an asynchronous dial for a fresh generation.
func (m *Manager) dial() {
	m.gen++
	gen := m.gen

	target, err := URL(m.endpoint, m.cfg.WSPath, m.token)
	if err != nil {
		m.logger.Error().Err(err).Str("endpoint", m.endpoint).Msg("cannot derive websocket url")
		m.setState(StateDisconnected)
		return
	}

	if m.cancelDial != nil {
		m.cancelDial()
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	m.cancelDial = cancel
	m.setState(StateConnecting)
	m.logger.Debug().Uint64("gen", gen).Str("url", redact(target)).Msg("dialing")

	go func() {
		defer cancel()
		conn, err := m.dialer.Dial(ctx, target)
		if err != nil {
			m.post(event{kind: evError, gen: gen, err: err})
			m.post(event{kind: evClose, gen: gen, err: err})
			return
		}
		if !m.post(event{kind: evOpen, gen: gen, conn: conn}) {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) handleOpen(gen uint64, conn types.Conn) {
	if gen != m.gen || m.token == "" {
		_ = conn.Close()
		return
	}
	s := newSocket(gen, conn)

	m.mu.Lock()
	m.sock = s
	m.mu.Unlock()

	m.resetAttempts()
	m.setState(StateConnected)
	m.logger.Info().Str("socket_id", s.id).Uint64("gen", gen).Msg("connected")

	go s.readPump(m)
}

func (m *Manager) handleFrame(gen uint64, data []byte) {
	if gen != m.gen {
		return
	}
	msgs, dropped := codec.Decode(data)
	if dropped > 0 {
		m.logger.Debug().Int("dropped", dropped).Int("delivered", len(msgs)).Msg("malformed segments discarded")
	}
	if len(msgs) == 0 {
		return
	}
	// Batches queued before a teardown are not delivered after it.
	epoch := m.epoch.Load()
	m.dispatch.push(func() {
		if m.epoch.Load() == epoch {
			m.sink.PublishAll(msgs)
		}
	})
}

func (m *Manager) handleError(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	m.setState(StateDisconnected)
	m.logger.Warn().Err(err).Uint64("gen", gen).Msg("connection error")
}

func (m *Manager) handleClose(gen uint64, err error) {
	if gen != m.gen {
		return
	}
	m.dropSocket()
	m.setState(StateDisconnected)

	if m.token == "" {
		return
	}
	if m.attemptsRaw >= m.cfg.MaxReconnectAttempts {
		m.logger.Warn().Int("attempts", m.attemptsRaw).Msg("giving up reconnecting")
		m.resetAttempts()
		return
	}

	delay := m.backoff.NextBackOff()
	m.attemptsRaw++
	m.attempts.Store(int32(m.attemptsRaw))
	m.logger.Warn().
		AnErr("cause", err).
		Int("attempt", m.attemptsRaw).
		Dur("delay", delay).
		Msg("reconnect scheduled")

	m.stopTimer = m.scheduler.AfterFunc(delay, func() {
		m.post(event{kind: evReconnect, gen: gen})
	})
}

func (m *Manager) handleReconnect(gen uint64) {
	if gen != m.gen || m.token == "" {
		return
	}
	m.stopTimer = nil
	m.dial()
}

// teardown drops the credential and every resource tied to it. Bumping the
// generation turns any event still in flight from the old socket into a
// no-op.
func (m *Manager) teardown() {
	m.token = ""
	m.endpoint = ""
	m.gen++
	m.epoch.Add(1)
	m.cancelReconnect()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.dropSocket()
	m.resetAttempts()
	m.setState(StateDisconnected)
}

func (m *Manager) cancelReconnect() {
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
}

func (m *Manager) dropSocket() {
	m.mu.Lock()
	s := m.sock
	m.sock = nil
	m.mu.Unlock()

	if s != nil {
		s.close()
	}
}

func (m *Manager) resetAttempts() {
	m.attemptsRaw = 0
	m.attempts.Store(0)
	m.backoff.Reset()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	observers := m.observers
	m.mu.Unlock()

	if prev == s || len(observers) == 0 {
		return
	}
	m.dispatch.push(func() {
		for _, fn := range observers {
			fn(s)
		}
	})
}
