package client

import "sync"

// dispatcher runs message deliveries and state notifications in order on
// its own goroutine. The loop only queues work, so a handler may call
// Connect or Teardown without waiting on itself.
type dispatcher struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{wake: make(chan struct{}, 1)}
}

func (d *dispatcher) push(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// run drains the queue until stop is closed, then drains what is left.
func (d *dispatcher) run(stop <-chan struct{}) {
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-stop:
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		q := d.queue
		d.queue = nil
		d.mu.Unlock()

		if len(q) == 0 {
			return
		}
		for _, fn := range q {
			fn()
		}
	}
}
