package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/devserver"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type tokenStore struct {
	token     string
	refreshes atomic.Int32
}

func (s *tokenStore) AccessToken() string { return s.token }

func (s *tokenStore) Refresh(context.Context) error {
	s.refreshes.Add(1)
	return nil
}

type harness struct {
	srv      *devserver.Server
	store    *tokenStore
	provider *RealtimeProvider
	app      *fiber.App
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := devserver.New("/ws", zerolog.Nop(), "secret")
	endpoint, err := srv.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	cfg := config.DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.ReconnectBaseDelay = 20 * time.Millisecond
	cfg.ReconnectMaxDelay = 100 * time.Millisecond

	store := &tokenStore{token: "secret"}
	p := NewRealtimeProvider(cfg, service.Deps{Store: store}, zerolog.Nop())
	t.Cleanup(func() { _ = p.Deactivate() })

	app := fiber.New()
	p.RegisterRoutes(app)
	return &harness{srv: srv, store: store, provider: p, app: app}
}

func (h *harness) do(t *testing.T, method, path, body string) (int, gjson.Result) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, gjson.ParseBytes(data)
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	require.NoError(t, h.provider.Activate(context.Background()))
	require.Eventually(t, func() bool {
		return h.provider.Service().Status().Connected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoutesWhileInactive(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/realtime/info", "/realtime/presence", "/realtime/ban"} {
		code, body := h.do(t, http.MethodGet, path, "")
		assert.Equal(t, fiber.StatusServiceUnavailable, code, path)
		assert.Equal(t, "inactive", body.Get("error").String())
	}
	code, _ := h.do(t, http.MethodPost, "/realtime/send", `{"type":"message"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.ErrorIs(t, h.provider.SetCredential("x"), errInactive)
}

func TestActivateConnectsAndReportsInfo(t *testing.T) {
	h := newHarness(t)
	h.activate(t)
	assert.True(t, h.provider.IsActive())

	code, body := h.do(t, http.MethodGet, "/realtime/info", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "orchestra/realtime", body.Get("provider").String())
	assert.Equal(t, "connected", body.Get("status.state").String())
	assert.True(t, body.Get("status.connected").Bool())

	require.NoError(t, h.provider.Activate(context.Background()))
	assert.Equal(t, 1, h.srv.Accepted())
}

func TestSendRoute(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	code, _ := h.do(t, http.MethodPost, "/realtime/send", `[1,2]`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/realtime/send", `{"room_id":"r1"}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, body := h.do(t, http.MethodPost, "/realtime/send", `{"type":"message","room_id":"r1","payload":{"content":"hi"}}`)
	require.Equal(t, fiber.StatusOK, code)
	assert.True(t, body.Get("sent").Bool())

	require.Eventually(t, func() bool { return len(h.srv.Received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := gjson.ParseBytes(h.srv.Received()[0].Data)
	assert.Equal(t, "r1", got.Get("room_id").String())
	assert.Equal(t, "hi", got.Get("payload.content").String())
}

func TestCredentialRouteLogsOut(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	code, body := h.do(t, http.MethodPost, "/realtime/credential", `{"token":""}`)
	require.Equal(t, fiber.StatusAccepted, code)
	assert.False(t, body.Get("authenticated").Bool())
	assert.False(t, h.provider.Service().Status().Connected)

	code, body = h.do(t, http.MethodPost, "/realtime/send", `{"type":"message"}`)
	assert.Equal(t, fiber.StatusConflict, code)
	assert.Equal(t, "not_connected", body.Get("error").String())

	code, _ = h.do(t, http.MethodPost, "/realtime/credential", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/realtime/credential", `{"token":"secret"}`)
	require.Equal(t, fiber.StatusAccepted, code)
	assert.Eventually(t, func() bool { return h.provider.Service().Status().Connected }, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshRoute(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	code, body := h.do(t, http.MethodPost, "/realtime/refresh", "")
	require.Equal(t, fiber.StatusAccepted, code)
	assert.True(t, body.Get("requested").Bool())
	assert.Eventually(t, func() bool { return h.store.refreshes.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServerPushReachesBanRoute(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	until := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, h.srv.Push(map[string]any{
		"type": "user_banned",
		"payload": map[string]any{
			"reason":       "spam",
			"banned_until": until,
		},
	}))

	require.Eventually(t, func() bool {
		return h.provider.Service().Ban().View().Banned
	}, 2*time.Second, 10*time.Millisecond)

	code, body := h.do(t, http.MethodGet, "/realtime/ban", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.True(t, body.Get("banned").Bool())
	assert.Equal(t, "spam", body.Get("reason").String())
	assert.Contains(t, body.Get("countdown").String(), "menit")
}

func TestPresenceRoutes(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	code, body := h.do(t, http.MethodGet, "/realtime/presence", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, int64(20), body.Get("page_size").Int())

	code, body = h.do(t, http.MethodPost, "/realtime/presence/more", "")
	require.Equal(t, fiber.StatusAccepted, code)
	assert.Equal(t, int64(40), body.Get("page_size").Int())
}

func TestActions(t *testing.T) {
	h := newHarness(t)

	names := make([]string, 0)
	byName := make(map[string]Action)
	for _, a := range h.provider.Actions() {
		names = append(names, a.Name)
		byName[a.Name] = a
	}
	assert.ElementsMatch(t, []string{
		"realtime_status", "realtime_send", "realtime_refresh", "realtime_presence", "realtime_ban",
	}, names)

	_, err := byName["realtime_status"].Handler(nil)
	assert.ErrorIs(t, err, errInactive)

	h.activate(t)
	out, err := byName["realtime_status"].Handler(nil)
	require.NoError(t, err)
	assert.True(t, out.(service.Status).Connected)

	_, err = byName["realtime_send"].Handler(map[string]any{})
	assert.Error(t, err)
}

func TestDeactivateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	require.NoError(t, h.provider.Deactivate())
	require.NoError(t, h.provider.Deactivate())
	assert.False(t, h.provider.IsActive())
	assert.Nil(t, h.provider.Service())
	assert.Eventually(t, func() bool { return len(h.srv.Clients()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDefaultConfig(t *testing.T) {
	p := NewRealtimeProvider(nil, service.Deps{}, zerolog.Nop())
	assert.Equal(t, "realtime", p.ConfigKey())
	cfg := p.DefaultConfig()
	assert.Equal(t, "/ws", cfg["ws_path"])
	assert.Equal(t, 5, cfg["max_reconnect_attempts"])
	assert.Equal(t, "3s", cfg["refresh_debounce"])
}

func TestUnreachableRedisKeepsSignalsLocal(t *testing.T) {
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")
	h := newHarness(t)
	h.provider.cfg.RedisBridge = true
	h.activate(t)

	code, _ := h.do(t, http.MethodPost, "/realtime/refresh", "")
	require.Equal(t, fiber.StatusAccepted, code)
	assert.Eventually(t, func() bool { return h.store.refreshes.Load() == 1 }, time.Second, 10*time.Millisecond)
}
