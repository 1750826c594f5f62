package reactor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/orchestra-mcp/realtime/src/signals"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

const roleUpdatedKey = "role_updated"

// SessionRefresher turns role and payment events into session refreshes.
//
// Socket events are debounced per key and converted into a refresh signal
// on the bus; the signal listener performs the refresh. Any other part of
// the application can request a refresh through the same signal.
type SessionRefresher struct {
	store    SessionStore
	bus      *signals.Bus
	debounce *Debouncer
	logger   zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	refreshes atomic.Int64
	failures  atomic.Int64
}

// NewSessionRefresher creates a refresher.
func NewSessionRefresher(store SessionStore, bus *signals.Bus, debounce *Debouncer, logger zerolog.Logger) *SessionRefresher {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionRefresher{
		store:    store,
		bus:      bus,
		debounce: debounce,
		logger:   logger.With().Str("component", "session-refresh").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle consumes socket messages.
func (r *SessionRefresher) Handle(msg types.Message) {
	var key string
	switch ev := types.Parse(msg).(type) {
	case types.RoleUpdated:
		key = roleUpdatedKey
	case types.PaymentStatus:
		if !ev.Succeeded() {
			return
		}
		key = "pay_" + ev.OrderID
	default:
		return
	}

	if !r.debounce.Allow(key) {
		r.logger.Debug().Str("key", key).Msg("refresh debounced")
		return
	}
	r.logger.Debug().Str("key", key).Msg("refresh requested")
	r.bus.RequestRefresh()
}

// OnSignal performs a refresh in the background. Failures are logged and
// the previous session data is kept.
func (r *SessionRefresher) OnSignal(types.Message) {
	if r.ctx.Err() != nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.failures.Add(1)
				r.logger.Error().Interface("panic", rec).Msg("session refresh panicked")
			}
		}()
		if err := r.store.Refresh(r.ctx); err != nil {
			r.failures.Add(1)
			r.logger.Warn().Err(err).Msg("session refresh failed")
			return
		}
		r.refreshes.Add(1)
		r.logger.Info().Msg("session refreshed")
	}()
}

// Refreshes returns the number of successful refreshes.
func (r *SessionRefresher) Refreshes() int64 { return r.refreshes.Load() }

// Close cancels in-flight refreshes and waits for them to return.
func (r *SessionRefresher) Close() {
	r.cancel()
	r.wg.Wait()
}
