package client

import (
	"errors"
	"fmt"

	"github.com/orchestra-mcp/realtime/src/codec"
)

// Send writes v as one JSON frame if the socket is open. While disconnected
// it does nothing: there is no queue and no retry.
func (m *Manager) Send(v any) {
	if err := m.TrySend(v); err != nil && !errors.Is(err, ErrNotConnected) {
		m.logger.Debug().Err(err).Msg("send failed")
	}
}

// TrySend is Send with the outcome reported.
func (m *Manager) TrySend(v any) error {
	m.mu.RLock()
	s := m.sock
	open := m.state == StateConnected
	m.mu.RUnlock()

	if !open || s == nil {
		return ErrNotConnected
	}
	data, err := codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := s.write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
