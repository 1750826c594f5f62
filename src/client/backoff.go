package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/orchestra-mcp/realtime/config"
)

// Scheduler runs f once after d. The returned stop function cancels a
// pending run and reports whether it did.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// newReconnectBackoff yields base, 2*base, 4*base, ... capped at the
// configured maximum, without jitter and without an elapsed-time limit.
// The attempt ceiling is enforced by the manager.
func newReconnectBackoff(cfg *config.ClientConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectBaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = cfg.ReconnectMaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
