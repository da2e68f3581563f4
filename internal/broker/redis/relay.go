package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/proxichat/internal/core"
	"github.com/vovakirdan/proxichat/internal/metrics"
)

// Relay fans chat envelopes out across instances through Redis pub/sub.
// Every instance publishes on <prefix>chat:<chatID> and pattern-subscribes to
// all chat channels, handing what it receives to its local registry.
type Relay struct {
	cli     *redis.Client
	local   *core.Registry
	prefix  string
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

var _ core.Broadcaster = (*Relay)(nil)

// New connects to Redis and checks the connection.
func New(ctx context.Context, url, prefix string, local *core.Registry, logger *zerolog.Logger, m *metrics.Metrics) (*Relay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Relay{cli: cli, local: local, prefix: prefix, log: logger, metrics: m}, nil
}

// Close closes the Redis client, which also ends Run.
func (r *Relay) Close() error {
	return r.cli.Close()
}

func (r *Relay) channel(chatID string) string {
	return r.prefix + "chat:" + chatID
}

// Broadcast publishes env to every instance, this one included.
// If the publish fails the envelope is still fanned out locally.
func (r *Relay) Broadcast(ctx context.Context, chatID string, env *core.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.cli.Publish(ctx, r.channel(chatID), data).Err(); err != nil {
		r.metrics.RelayError()
		r.local.Fanout(chatID, env)
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run consumes relayed envelopes until ctx is done or the client is closed.
func (r *Relay) Run(ctx context.Context) error {
	pattern := r.channel("*")
	sub := r.cli.PSubscribe(ctx, pattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe %s: %w", pattern, err)
	}
	r.log.Info().Str("pattern", pattern).Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg)
		}
	}
}

func (r *Relay) handle(msg *redis.Message) {
	chatID, ok := strings.CutPrefix(msg.Channel, r.prefix+"chat:")
	if !ok || chatID == "" {
		return
	}

	var env core.Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		r.metrics.RelayError()
		r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("drop undecodable relay payload")
		return
	}
	if env.ChatID != "" && env.ChatID != chatID {
		r.metrics.RelayError()
		r.log.Warn().Str("channel", msg.Channel).Str("chat_id", env.ChatID).Msg("drop relay payload for another chat")
		return
	}
	r.local.Fanout(chatID, &env)
}

// IsClosed reports whether err means the relay client was closed.
func IsClosed(err error) bool {
	return errors.Is(err, redis.ErrClosed)
}
