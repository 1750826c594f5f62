package bridge

import (
	"github.com/caarlos0/env/v11"
)

// RedisConfig holds connection settings for the Redis pub/sub bridge.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`           // Redis address, default "localhost:6379"
	Password string `env:"REDIS_PASSWORD"`       // Redis password, default ""
	DB       int    `env:"REDIS_DB"`             // Redis database number, default 0
	Prefix   string `env:"REDIS_SIGNAL_PREFIX"`  // Channel prefix, default "realtime:signals:"
	Channel  string `env:"REDIS_SIGNAL_CHANNEL"` // Channel suffix, usually a user id
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:    "localhost:6379",
		Prefix:  "realtime:signals:",
		Channel: "broadcast",
	}
}

// RedisConfigFromEnv loads Redis configuration from environment variables.
// Falls back to defaults for any missing or malformed values.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()
	// Field errors are aggregated; fields that parsed are still applied.
	_ = env.Parse(cfg)
	return cfg
}

func (c *RedisConfig) topic() string {
	return c.Prefix + c.Channel
}
