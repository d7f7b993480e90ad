// Package notify delivers recompute events to subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
)

// DefaultChannel is the pub/sub channel recompute events are published on.
const DefaultChannel = "cashflow.recalc"

// RedisPublisher publishes events as JSON on a Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher builds a publisher. A nil client makes Publish a no-op.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish implements cashflow.ChangeNotifier.
func (p *RedisPublisher) Publish(ctx context.Context, event cashflow.RecalcEvent) error {
	if p == nil || p.client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// Listen relays events from the channel into sink until ctx is done. Payloads that
// fail to decode are logged and skipped.
func (p *RedisPublisher) Listen(ctx context.Context, sink cashflow.ChangeNotifier, logger *slog.Logger) error {
	if p == nil || p.client == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	pubsub := p.client.Subscribe(ctx, p.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("notify: subscribe %s: %w", p.channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event cashflow.RecalcEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Warn("decode recalc event", slog.Any("error", err))
					continue
				}
				if err := sink.Publish(ctx, event); err != nil {
					logger.Warn("relay recalc event", slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}
