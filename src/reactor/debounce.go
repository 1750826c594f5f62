package reactor

import (
	"sync"
	"time"
)

// Debouncer suppresses repeats of the same key inside a window. Distinct
// keys never suppress each other. The key map is swept once per window and
// never grows past maxKeys entries.
type Debouncer struct {
	window  time.Duration
	maxKeys int
	now     func() time.Time

	mu        sync.Mutex
	fired     map[string]time.Time
	lastSweep time.Time
}

// NewDebouncer creates a Debouncer. A nil now uses time.Now; maxKeys <= 0
// leaves the map unbounded between sweeps.
func NewDebouncer(window time.Duration, maxKeys int, now func() time.Time) *Debouncer {
	if now == nil {
		now = time.Now
	}
	return &Debouncer{
		window:  window,
		maxKeys: maxKeys,
		now:     now,
		fired:   make(map[string]time.Time),
	}
}

// Allow reports whether key may fire now and records it if so.
func (d *Debouncer) Allow(key string) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweep(now)
	if last, ok := d.fired[key]; ok && now.Sub(last) < d.window {
		return false
	}
	if _, ok := d.fired[key]; !ok && d.maxKeys > 0 && len(d.fired) >= d.maxKeys {
		d.evictOldest()
	}
	d.fired[key] = now
	return true
}

// Len returns the number of tracked keys.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fired)
}

func (d *Debouncer) sweep(now time.Time) {
	if now.Sub(d.lastSweep) < d.window {
		return
	}
	for k, at := range d.fired {
		if now.Sub(at) >= d.window {
			delete(d.fired, k)
		}
	}
	d.lastSweep = now
}

func (d *Debouncer) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
		first     = true
	)
	for k, at := range d.fired {
		if first || at.Before(oldestAt) {
			oldestKey, oldestAt, first = k, at, false
		}
	}
	delete(d.fired, oldestKey)
}
