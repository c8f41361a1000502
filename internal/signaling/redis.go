package signaling

import (
	"context"
	"fmt"

	"telecare-backend/internal/database"
	"telecare-backend/pkg/constants"
)

// RedisBus implements Bus over Redis Pub/Sub.
type RedisBus struct {
	client *database.RedisClient
}

// NewRedisBus creates a Redis-backed signaling bus.
func NewRedisBus(client *database.RedisClient) *RedisBus {
	return &RedisBus{client: client}
}

// Publish sends payload to one channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.SafePublish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe joins channels and waits for the server's subscription
// confirmation before returning. One attempt only; the Transport owns retry.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	pubsub := b.client.SafeSubscribe(ctx, channels...)
	if pubsub == nil {
		return nil, fmt.Errorf("redis subscribe: degraded mode")
	}

	// Publishing before the server acknowledges the subscription would race
	// the fan-out; wait for confirmation with a bounded timeout.
	confirmCtx, cancel := context.WithTimeout(ctx, constants.SubscribeConfirmTimeout)
	defer cancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe confirm: %w", err)
	}

	out := make(chan Msg, 64)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if m == nil {
					continue
				}
				select {
				case out <- Msg{Channel: m.Channel, Payload: []byte(m.Payload)}:
				case <-done:
					return
				}
			}
		}
	}()

	return NewSubscription(out, func() {
		close(done)
		pubsub.Close()
	}), nil
}
