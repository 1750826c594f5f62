package client

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("connection refused")

// mockConn implements types.Conn without a network.
type mockConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newMockConn() *mockConn {
	return &mockConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case <-m.closed:
		return 0, nil, errors.New("use of closed connection")
	default:
	}
	select {
	case f := <-m.frames:
		return 1, f, nil
	case <-m.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (m *mockConn) WriteMessage(_ int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *mockConn) getWritten() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

// mockDialer hands out mockConns, or fails while refuse is set.
type mockDialer struct {
	mu     sync.Mutex
	refuse bool
	urls   []string
	conns  []*mockConn
}

func (d *mockDialer) Dial(_ context.Context, target string) (types.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, target)
	if d.refuse {
		return nil, errRefused
	}
	c := newMockConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *mockDialer) setRefuse(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse = v
}

func (d *mockDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *mockDialer) lastConn() *mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *mockDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.urls[len(d.urls)-1]
}

// manualScheduler records delays and only runs callbacks when told to.
type manualScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.pending = append(s.pending, f)
	return func() bool { return true }
}

func (s *manualScheduler) getDelays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// fireLast runs the most recently scheduled callback.
func (s *manualScheduler) fireLast() {
	s.mu.Lock()
	f := s.pending[len(s.pending)-1]
	s.mu.Unlock()
	f()
}

// recorder collects delivered message types.
type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) handle(m types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, m.Type)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

type harness struct {
	m     *Manager
	hub   *hub.Hub
	d     *mockDialer
	sched *manualScheduler
	rec   *recorder
}

func newHarness(t *testing.T, mutate ...func(*config.ClientConfig)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Endpoint = "https://social.example.com"
	for _, fn := range mutate {
		fn(cfg)
	}
	h := hub.New(zerolog.Nop())
	rec := &recorder{}
	h.Subscribe(rec.handle)

	d := &mockDialer{}
	sched := &manualScheduler{}
	m := New(cfg, d, h, zerolog.Nop(), WithScheduler(sched))
	go m.Run()
	t.Cleanup(m.Stop)
	return &harness{m: m, hub: h, d: d, sched: sched, rec: rec}
}

func (h *harness) connect(t *testing.T, token string) *mockConn {
	t.Helper()
	require.NoError(t, h.m.Connect(token))
	require.Eventually(t, h.m.IsConnected, time.Second, 5*time.Millisecond)
	return h.d.lastConn()
}

func TestConnectOpensSocketWithToken(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "tok en")

	u, err := url.Parse(h.d.lastURL())
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "social.example.com", u.Host)
	assert.Equal(t, "/ws", u.Path)
	assert.Equal(t, "tok en", u.Query().Get("token"))
	assert.Equal(t, 0, h.m.Attempts())
}

func TestConnectIsIdempotentWhileOpen(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "tok")

	require.NoError(t, h.m.Connect("tok"))
	assert.Equal(t, 1, h.d.dials())
	assert.False(t, conn.isClosed())
}

func TestConnectWithNewCredentialRebuilds(t *testing.T) {
	h := newHarness(t)
	first := h.connect(t, "old")

	require.NoError(t, h.m.Connect("new"))
	require.Eventually(t, func() bool { return h.d.dials() == 2 && h.m.IsConnected() }, time.Second, 5*time.Millisecond)

	assert.True(t, first.isClosed())
	u, _ := url.Parse(h.d.lastURL())
	assert.Equal(t, "new", u.Query().Get("token"))
}

func TestConnectWithoutTokenDoesNothing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Connect(""))
	assert.Zero(t, h.d.dials())
	assert.Equal(t, StateDisconnected, h.m.State())
}

func TestFramesAreDecodedAndDeliveredInOrder(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "tok")

	conn.frames <- []byte(`{"type":"a"}` + "\n" + `{broken` + "\n" + `{"type":"b"}`)
	conn.frames <- []byte(`{"type":"c"}`)

	require.Eventually(t, func() bool { return len(h.rec.get()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, h.rec.get())
}

func TestReconnectBackoffSequenceThenGiveUp(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "tok")
	h.d.setRefuse(true)

	conn.Close()
	require.Eventually(t, func() bool { return len(h.sched.getDelays()) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, h.m.IsConnected())

	for i := 1; i < 5; i++ {
		h.sched.fireLast()
		want := i + 1
		require.Eventually(t, func() bool { return len(h.sched.getDelays()) == want }, time.Second, 5*time.Millisecond)
		assert.Equal(t, want, h.m.Attempts())
	}

	// The fifth reconnect fails too; the manager gives up.
	h.sched.fireLast()
	require.Eventually(t, func() bool { return h.d.dials() == 6 && h.m.Attempts() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, h.sched.getDelays())
	assert.Equal(t, StateDisconnected, h.m.State())
}

func TestReconnectDelayIsCapped(t *testing.T) {
	h := newHarness(t, func(c *config.ClientConfig) {
		c.ReconnectBaseDelay = 10 * time.Second
		c.ReconnectMaxDelay = 30 * time.Second
	})
	conn := h.connect(t, "tok")
	h.d.setRefuse(true)

	conn.Close()
	for i := 1; i < 5; i++ {
		want := i
		require.Eventually(t, func() bool { return len(h.sched.getDelays()) == want }, time.Second, 5*time.Millisecond)
		h.sched.fireLast()
	}
	require.Eventually(t, func() bool { return len(h.sched.getDelays()) == 5 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []time.Duration{
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, h.sched.getDelays())
}

func TestSuccessfulReconnectResetsAttempts(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "tok")

	conn.Close()
	require.Eventually(t, func() bool { return h.m.Attempts() == 1 }, time.Second, 5*time.Millisecond)

	h.sched.fireLast()
	require.Eventually(t, func() bool { return h.d.dials() == 2 && h.m.IsConnected() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.m.Attempts())

	// The next outage starts the sequence from the base delay again.
	h.d.lastConn().Close()
	require.Eventually(t, func() bool { return len(h.sched.getDelays()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.sched.getDelays())
}

func TestTeardownCancelsReconnectAndIgnoresLateCallbacks(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "tok")

	conn.Close()
	require.Eventually(t, func() bool { return len(h.sched.getDelays()) == 1 }, time.Second, 5*time.Millisecond)

	h.m.Teardown()
	h.m.Teardown()

	// A timer that slipped past cancellation must not revive the socket.
	h.sched.fireLast()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.d.dials())
	assert.Equal(t, StateDisconnected, h.m.State())
	assert.Equal(t, 0, h.m.Attempts())
}

func TestTeardownStopsDeliveryFromOldSocket(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "tok")

	h.m.Teardown()
	assert.True(t, conn.isClosed())

	conn.frames <- []byte(`{"type":"late"}`)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.rec.get())
	assert.Empty(t, h.sched.getDelays())
}

func TestSendWhileDisconnectedIsSilentNoop(t *testing.T) {
	h := newHarness(t)

	assert.NotPanics(t, func() { h.m.Send(map[string]any{"type": "message"}) })
	assert.ErrorIs(t, h.m.TrySend(map[string]any{"type": "message"}), ErrNotConnected)
	assert.Zero(t, h.d.dials())
}

func TestSendWritesOneJSONFrame(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "tok")

	h.m.Send(map[string]any{
		"room_id": "r1",
		"type":    "message",
		"payload": map[string]any{"content": "hi", "user_name": "ana"},
	})

	written := conn.getWritten()
	require.Len(t, written, 1)
	assert.JSONEq(t, `{"room_id":"r1","type":"message","payload":{"content":"hi","user_name":"ana"}}`, string(written[0]))
}

func TestSendAfterConnectionDropIsNoop(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "tok")

	conn.Close()
	require.Eventually(t, func() bool { return !h.m.IsConnected() }, time.Second, 5*time.Millisecond)

	h.m.Send(map[string]any{"type": "message"})
	assert.Empty(t, conn.getWritten())
}

func TestStateObserverSeesTransitions(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var states []State
	h.m.OnStateChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	h.connect(t, "tok")
	h.m.Teardown()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestSubscriberCanTearDownFromHandler(t *testing.T) {
	h := newHarness(t)
	returned := make(chan struct{})
	h.hub.Subscribe(func(m types.Message) {
		if m.Type == "force_logout" {
			h.m.Teardown()
			close(returned)
		}
	})
	conn := h.connect(t, "tok")

	conn.frames <- []byte(`{"type":"force_logout"}` + "\n" + `{"type":"after"}`)
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Teardown called from a subscriber did not return")
	}
	assert.False(t, h.m.IsConnected())
	assert.True(t, conn.isClosed())

	// The loop keeps serving requests.
	h.connect(t, "tok")
	assert.Equal(t, 2, h.d.dials())
}

func TestBatchesQueuedBeforeTeardownAreDropped(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.hub.Subscribe(func(m types.Message) {
		if m.Type == "slow" {
			<-release
		}
	})
	conn := h.connect(t, "tok")

	conn.frames <- []byte(`{"type":"slow"}`)
	conn.frames <- []byte(`{"type":"queued"}`)
	require.Eventually(t, func() bool { return len(h.rec.get()) == 1 }, time.Second, 5*time.Millisecond)
	// Both frames are decoded before the teardown below is handled.
	time.Sleep(20 * time.Millisecond)

	h.m.Teardown()
	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"slow"}, h.rec.get())
}

func TestObserverCanReconnectFromCallback(t *testing.T) {
	h := newHarness(t)
	var once sync.Once
	h.m.OnStateChange(func(s State) {
		if s == StateConnected {
			once.Do(func() { _ = h.m.Connect("rotated") })
		}
	})

	require.NoError(t, h.m.Connect("tok"))
	require.Eventually(t, func() bool { return h.d.dials() == 2 && h.m.IsConnected() }, 2*time.Second, 5*time.Millisecond)
	u, _ := url.Parse(h.d.lastURL())
	assert.Equal(t, "rotated", u.Query().Get("token"))
}

func TestStopIsIdempotentAndTeardownAfterStopIsSafe(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "tok")

	h.m.Stop()
	h.m.Stop()
	h.m.Teardown()

	assert.True(t, conn.isClosed())
	assert.Equal(t, StateClosed, h.m.State())
	assert.ErrorIs(t, h.m.Connect("tok"), ErrStopped)
}
