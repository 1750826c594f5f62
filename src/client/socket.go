package client

import (
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/src/types"
)

// socket is one transport handle owned by the manager. Every event it
// produces is tagged with its generation so the manager can ignore events
// from a socket it has already replaced.
type socket struct {
	id   string
	gen  uint64
	conn types.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSocket(gen uint64, conn types.Conn) *socket {
	return &socket{
		id:   uuid.New().String(),
		gen:  gen,
		conn: conn,
	}
}

// readPump forwards frames to the manager loop until the connection fails.
func (s *socket) readPump(m *Manager) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.post(event{kind: evError, gen: s.gen, err: err})
			}
			m.post(event{kind: evClose, gen: s.gen, err: err})
			return
		}
		if !m.post(event{kind: evFrame, gen: s.gen, data: data}) {
			return
		}
	}
}

// write sends one text frame. The underlying conn allows a single writer.
func (s *socket) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *socket) close() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}
