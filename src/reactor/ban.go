package reactor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// DefaultBanReason is shown when a ban arrives without a reason.
const DefaultBanReason = "Akun Anda telah diblokir oleh administrator."

// BanView is what the blocking overlay renders.
type BanView struct {
	Banned    bool          `json:"banned"`
	Reason    string        `json:"reason,omitempty"`
	Until     time.Time     `json:"until,omitempty"`
	Remaining time.Duration `json:"remaining"`
	Countdown string        `json:"countdown,omitempty"`
}

// BanWatcher tracks whether the current user is banned.
//
// States are Unbanned and Banned(reason, until). A ban event from the socket
// and a ban signal from the REST layer both enter Banned, provided until is
// in the future. While banned a ticker refreshes the countdown; when it
// reaches zero the watcher returns to Unbanned on its own.
type BanWatcher struct {
	api      ProfileAPI
	now      func() time.Time
	interval time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	banned    bool
	reason    string
	until     time.Time
	stopTick  chan struct{}
	observers []func(BanView)
	wg        sync.WaitGroup
}

// NewBanWatcher creates a watcher in the Unbanned state. A nil now uses
// time.Now.
func NewBanWatcher(api ProfileAPI, interval time.Duration, now func() time.Time, logger zerolog.Logger) *BanWatcher {
	if now == nil {
		now = time.Now
	}
	return &BanWatcher{
		api:      api,
		now:      now,
		interval: interval,
		logger:   logger.With().Str("component", "ban").Logger(),
	}
}

// Handle consumes socket messages and ban signals alike.
func (w *BanWatcher) Handle(msg types.Message) {
	ev, ok := types.Parse(msg).(types.UserBanned)
	if !ok {
		return
	}
	w.Trigger(ev.Reason, ev.BannedUntil)
}

// Trigger enters the Banned state. A ban that has already expired is ignored.
func (w *BanWatcher) Trigger(reason string, until time.Time) {
	if !until.After(w.now()) {
		w.logger.Debug().Time("until", until).Msg("expired ban ignored")
		return
	}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultBanReason
	}

	w.mu.Lock()
	w.banned = true
	w.reason = reason
	w.until = until
	if w.stopTick == nil {
		w.stopTick = make(chan struct{})
		w.wg.Add(1)
		go w.runTicker(w.stopTick)
	}
	view := w.viewLocked()
	w.mu.Unlock()

	w.logger.Warn().Time("until", until).Str("reason", reason).Msg("account banned")
	w.notify(view)
}

// Sync re-derives the state from the profile endpoint.
func (w *BanWatcher) Sync(ctx context.Context) error {
	if w.api == nil {
		return nil
	}
	me, err := w.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get me: %w", err)
	}
	if me.BannedUntil.After(w.now()) {
		w.Trigger(me.BanReason, me.BannedUntil)
		return nil
	}
	w.clear()
	return nil
}

// View returns the current overlay state.
func (w *BanWatcher) View() BanView {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// OnChange registers an observer for state and countdown updates.
func (w *BanWatcher) OnChange(fn func(BanView)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observers = append(w.observers, fn)
}

// Close stops the countdown.
func (w *BanWatcher) Close() {
	w.mu.Lock()
	w.stopLocked()
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *BanWatcher) runTicker(stop chan struct{}) {
	defer w.wg.Done()
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if !w.tick() {
				return
			}
		case <-stop:
			return
		}
	}
}

// tick refreshes the countdown. At zero it publishes a final "0 detik"
// view, clears the ban and reports false. A ban triggered after that view
// was taken is kept and the countdown continues.
func (w *BanWatcher) tick() bool {
	w.mu.Lock()
	if !w.banned {
		w.mu.Unlock()
		return false
	}
	view := w.viewLocked()
	w.mu.Unlock()

	w.notify(view)
	if view.Remaining > 0 {
		return true
	}
	return !w.clearIf(view.Until)
}

func (w *BanWatcher) clear() {
	w.mu.Lock()
	if !w.banned {
		w.mu.Unlock()
		return
	}
	w.clearLocked()
}

// clearIf lifts the ban only if it still ends at until. It reports whether
// the ban was lifted.
func (w *BanWatcher) clearIf(until time.Time) bool {
	w.mu.Lock()
	if !w.banned || !w.until.Equal(until) {
		banned := w.banned
		w.mu.Unlock()
		return !banned
	}
	w.clearLocked()
	return true
}

// clearLocked lifts the ban. Called with w.mu held; it releases it.
func (w *BanWatcher) clearLocked() {
	w.banned = false
	w.reason = ""
	w.until = time.Time{}
	w.stopLocked()
	view := w.viewLocked()
	w.mu.Unlock()

	w.logger.Info().Msg("ban lifted")
	w.notify(view)
}

func (w *BanWatcher) stopLocked() {
	if w.stopTick != nil {
		close(w.stopTick)
		w.stopTick = nil
	}
}

func (w *BanWatcher) viewLocked() BanView {
	if !w.banned {
		return BanView{}
	}
	remaining := w.until.Sub(w.now())
	if remaining < 0 {
		remaining = 0
	}
	return BanView{
		Banned:    true,
		Reason:    w.reason,
		Until:     w.until,
		Remaining: remaining,
		Countdown: FormatCountdown(remaining),
	}
}

func (w *BanWatcher) notify(view BanView) {
	w.mu.Lock()
	observers := w.observers
	w.mu.Unlock()
	for _, fn := range observers {
		fn(view)
	}
}

// FormatCountdown renders a duration as "1 hari 2 jam 3 menit 4 detik",
// starting at the largest non-zero unit. Partial seconds round up so the
// display only shows "0 detik" once the time is actually up.
func FormatCountdown(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if d <= 0 || secs <= 0 {
		return "0 detik"
	}
	units := []struct {
		size int64
		name string
	}{
		{86400, "hari"},
		{3600, "jam"},
		{60, "menit"},
		{1, "detik"},
	}
	var parts []string
	for _, u := range units {
		n := secs / u.size
		secs %= u.size
		if n == 0 && len(parts) == 0 && u.size > 1 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, u.name))
	}
	return strings.Join(parts, " ")
}
