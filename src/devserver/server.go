// Package devserver is a minimal realtime backend for local development and
// integration tests. It accepts websocket connections on a single path,
// authenticates them by the token query parameter and lets the caller push
// frames to every connected client.
package devserver

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/src/codec"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Received is one frame sent by a client.
type Received struct {
	ClientID string
	Data     []byte
}

// Server is the development websocket backend.
type Server struct {
	path     string
	accept   func(token string) bool
	upgrader websocket.FastHTTPUpgrader
	srv      *fasthttp.Server
	logger   zerolog.Logger

	mu       sync.Mutex
	ln       net.Listener
	peers    map[string]*peer
	received []Received

	accepted atomic.Int64
	rejected atomic.Int64
}

type peer struct {
	id      string
	token   string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, frame)
}

// New creates a server serving path that accepts any of tokens. With no
// tokens every non-empty token is accepted.
func New(path string, logger zerolog.Logger, tokens ...string) *Server {
	allowed := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		allowed[t] = struct{}{}
	}
	s := &Server{
		path: path,
		accept: func(token string) bool {
			if token == "" {
				return false
			}
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[token]
			return ok
		},
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
		},
		logger: logger.With().Str("component", "devserver").Logger(),
		peers:  make(map[string]*peer),
	}
	s.srv = &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "realtime-devserver",
	}
	return s
}

// Handler returns the fasthttp handler, for mounting on an existing server.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != s.path {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}
		token := string(ctx.QueryArgs().Peek("token"))
		if !s.accept(token) {
			s.rejected.Add(1)
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			ctx.SetBodyString(`{"error":"unauthorized"}`)
			return
		}

		id := uuid.New().String()
		err := s.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			s.serve(&peer{id: id, token: token, conn: conn})
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

func (s *Server) serve(p *peer) {
	s.mu.Lock()
	s.peers[p.id] = p
	s.mu.Unlock()
	s.accepted.Add(1)
	s.logger.Debug().Str("client_id", p.id).Msg("client connected")

	defer func() {
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		_ = p.conn.Close()
		s.logger.Debug().Str("client_id", p.id).Msg("client disconnected")
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, Received{ClientID: p.id, Data: data})
		s.mu.Unlock()
	}
}

// Listen binds addr (for example "127.0.0.1:0") and serves in the
// background. It returns the http base URL clients should use as endpoint.
func (s *Server) Listen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := s.srv.Serve(ln); err != nil {
			s.logger.Debug().Err(err).Msg("serve returned")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.path).Msg("devserver listening")
	return "http://" + ln.Addr().String(), nil
}

// Close drops every client and stops the server.
func (s *Server) Close() error {
	s.DropAll()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.ShutdownWithContext(ctx)
}

// Push encodes msgs and writes them to every client as one frame, one
// JSON document per line.
func (s *Server) Push(msgs ...any) error {
	lines := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		b, err := codec.Encode(m)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		lines = append(lines, b)
	}
	return s.PushRaw(bytes.Join(lines, []byte("\n")))
}

// PushRaw writes frame verbatim to every client.
func (s *Server) PushRaw(frame []byte) error {
	var firstErr error
	for _, p := range s.snapshot() {
		if err := p.write(frame); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("write to %s: %w", p.id, err)
		}
	}
	return firstErr
}

// DropAll closes every client connection without a close handshake, the
// way a crashed backend or a network cut would.
func (s *Server) DropAll() {
	for _, p := range s.snapshot() {
		_ = p.conn.NetConn().Close()
	}
}

// Clients returns the ids of connected clients.
func (s *Server) Clients() []string {
	peers := s.snapshot()
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.id)
	}
	return ids
}

// Received returns every frame clients have sent so far.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// Accepted returns the number of connections accepted since start.
func (s *Server) Accepted() int { return int(s.accepted.Load()) }

// Rejected returns the number of handshakes refused for a bad token.
func (s *Server) Rejected() int { return int(s.rejected.Load()) }

func (s *Server) snapshot() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}
