package signaling

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSBus implements Bus over NATS core pub/sub. Deployments that already run
// NATS can use it in place of Redis; the contract is identical.
type NATSBus struct {
	conn *nats.Conn
}

// NewNATSBus creates a NATS-backed signaling bus.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn}
}

// Publish sends payload to one subject.
func (b *NATSBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.conn.Publish(channel, payload); err != nil {
		return fmt.Errorf("nats publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe joins subjects and flushes to confirm the server registered them.
func (b *NATSBus) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	out := make(chan Msg, 64)
	subs := make([]*nats.Subscription, 0, len(channels))

	teardown := func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}

	for _, channel := range channels {
		sub, err := b.conn.Subscribe(channel, func(m *nats.Msg) {
			select {
			case out <- Msg{Channel: m.Subject, Payload: m.Data}:
			default:
				// Slow consumer; signaling is best-effort, drop.
			}
		})
		if err != nil {
			teardown()
			return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
		}
		subs = append(subs, sub)
	}

	// Round-trip to the server so the subscriptions are confirmed live.
	if err := b.conn.FlushWithContext(ctx); err != nil {
		teardown()
		return nil, fmt.Errorf("nats subscribe confirm: %w", err)
	}

	return NewSubscription(out, func() {
		teardown()
		close(out)
	}), nil
}
