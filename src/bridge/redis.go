package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/src/codec"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned by Publish before Start succeeds or after Stop.
var ErrUnavailable = errors.New("redis bridge unavailable")

const startTimeout = 5 * time.Second

// signalEnvelope tags a relayed signal with the process that emitted it.
type signalEnvelope struct {
	InstanceID string          `json:"instance_id"`
	Message    json.RawMessage `json:"message"`
}

// RedisBridge shares session signals between processes of one user over a
// Redis pub/sub topic. A process never relays its own signals back.
type RedisBridge struct {
	rdb        *redis.Client
	topic      string
	instanceID string
	target     BroadcastTarget
	logger     zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	sub       *redis.PubSub
	relayDone chan struct{}
	live      atomic.Bool
	stopOnce  sync.Once

	relayed atomic.Uint64
	skipped atomic.Uint64
}

// NewRedisBridge creates a bridge delivering relayed signals to target.
func NewRedisBridge(cfg *RedisConfig, target BroadcastTarget, logger zerolog.Logger) *RedisBridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBridge{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		topic:      cfg.topic(),
		instanceID: uuid.New().String(),
		target:     target,
		logger:     logger.With().Str("component", "signal-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		relayDone:  make(chan struct{}),
	}
}

// Start checks that Redis answers and subscribes to the session topic.
// On failure the bridge stays unavailable and signals remain local.
func (b *RedisBridge) Start() error {
	ctx, cancel := context.WithTimeout(b.ctx, startTimeout)
	defer cancel()

	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	sub := b.rdb.Subscribe(b.ctx, b.topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	b.sub = sub
	b.live.Store(true)
	go b.relay(sub.Channel())

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("topic", b.topic).
		Msg("signal bridge subscribed")
	return nil
}

// Publish shares a signal with the other processes of the session.
func (b *RedisBridge) Publish(msg types.Message) error {
	if !b.live.Load() {
		return ErrUnavailable
	}
	data, err := b.encode(msg)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	if err := b.rdb.Publish(b.ctx, b.topic, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", b.topic, err)
	}
	return nil
}

// Stop unsubscribes, waits for the relay to finish and closes the client.
// Later calls do nothing.
func (b *RedisBridge) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		b.live.Store(false)
		b.cancel()
		if b.sub != nil {
			_ = b.sub.Close()
			<-b.relayDone
		}
		err = b.rdb.Close()
		b.logger.Info().
			Uint64("relayed", b.relayed.Load()).
			Uint64("skipped", b.skipped.Load()).
			Msg("signal bridge stopped")
	})
	return err
}

// Available reports whether the bridge is subscribed.
func (b *RedisBridge) Available() bool { return b.live.Load() }

// Relayed returns the number of foreign signals handed to the target.
func (b *RedisBridge) Relayed() uint64 { return b.relayed.Load() }

func (b *RedisBridge) encode(msg types.Message) ([]byte, error) {
	raw, err := codec.Encode(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(signalEnvelope{InstanceID: b.instanceID, Message: raw})
}

// relay runs until the subscription channel closes.
func (b *RedisBridge) relay(ch <-chan *redis.Message) {
	defer close(b.relayDone)
	for m := range ch {
		b.handlePayload([]byte(m.Payload))
	}
}

// handlePayload unwraps one envelope and hands foreign signals to the target.
func (b *RedisBridge) handlePayload(payload []byte) {
	var env signalEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn().Err(err).Msg("undecodable signal envelope")
		return
	}
	if env.InstanceID == b.instanceID {
		b.skipped.Add(1)
		return
	}

	msg, ok := codec.Parse(env.Message)
	if !ok {
		b.logger.Debug().Str("from_instance", env.InstanceID).Msg("malformed relayed signal dropped")
		return
	}
	b.relayed.Add(1)
	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("type", msg.Type).
		Msg("signal relayed")
	b.target.BroadcastToLocal(msg)
}
