package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ClientConfig holds realtime client configuration.
type ClientConfig struct {
	Endpoint             string        `json:"endpoint" env:"REALTIME_ENDPOINT"`
	WSPath               string        `json:"ws_path" env:"REALTIME_WS_PATH"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" env:"REALTIME_MAX_RECONNECT_ATTEMPTS"`
	ReconnectBaseDelay   time.Duration `json:"reconnect_base_delay" env:"REALTIME_RECONNECT_BASE_DELAY"`
	ReconnectMaxDelay    time.Duration `json:"reconnect_max_delay" env:"REALTIME_RECONNECT_MAX_DELAY"`
	HandshakeTimeout     time.Duration `json:"handshake_timeout" env:"REALTIME_HANDSHAKE_TIMEOUT"`
	WriteTimeout         time.Duration `json:"write_timeout" env:"REALTIME_WRITE_TIMEOUT"`
	ReadBufferSize       int           `json:"read_buffer_size" env:"REALTIME_READ_BUFFER_SIZE"`
	WriteBufferSize      int           `json:"write_buffer_size" env:"REALTIME_WRITE_BUFFER_SIZE"`
	RefreshDebounce      time.Duration `json:"refresh_debounce" env:"REALTIME_REFRESH_DEBOUNCE"`
	DebounceMaxKeys      int           `json:"debounce_max_keys" env:"REALTIME_DEBOUNCE_MAX_KEYS"`
	PresencePageSize     int           `json:"presence_page_size" env:"REALTIME_PRESENCE_PAGE_SIZE"`
	BanTickInterval      time.Duration `json:"ban_tick_interval" env:"REALTIME_BAN_TICK_INTERVAL"`
	StatusAddr           string        `json:"status_addr" env:"REALTIME_STATUS_ADDR"`
	LogLevel             string        `json:"log_level" env:"REALTIME_LOG_LEVEL"`
	RedisBridge          bool          `json:"redis_bridge" env:"REALTIME_REDIS_BRIDGE"`
}

// DefaultConfig returns the default realtime client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Endpoint:             "http://localhost:8080",
		WSPath:               "/ws",
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadBufferSize:       1024,
		WriteBufferSize:      1024,
		RefreshDebounce:      3 * time.Second,
		DebounceMaxKeys:      256,
		PresencePageSize:     20,
		BanTickInterval:      time.Second,
		StatusAddr:           "127.0.0.1:8089",
		LogLevel:             "info",
	}
}

// LoadFromEnv overlays environment variables on the defaults.
func LoadFromEnv() (*ClientConfig, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the client cannot run with.
func (c *ClientConfig) Validate() error {
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("endpoint is required")
	case c.MaxReconnectAttempts < 0:
		return fmt.Errorf("max reconnect attempts must not be negative")
	case c.ReconnectBaseDelay <= 0:
		return fmt.Errorf("reconnect base delay must be positive")
	case c.ReconnectMaxDelay < c.ReconnectBaseDelay:
		return fmt.Errorf("reconnect max delay must be at least the base delay")
	case c.PresencePageSize <= 0:
		return fmt.Errorf("presence page size must be positive")
	case c.BanTickInterval <= 0:
		return fmt.Errorf("ban tick interval must be positive")
	}
	return nil
}
