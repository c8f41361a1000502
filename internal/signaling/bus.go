// Package signaling delivers best-effort, low-latency messages between the
// two parties of a conversation over named pub/sub channels. It guarantees
// neither delivery nor ordering nor persistence; the persisted call-record
// fallback remains the backstop for total transport failure.
package signaling

import (
	"context"
	"sync"
)

// Msg is one raw message received from a physical channel.
type Msg struct {
	Channel string
	Payload []byte
}

// Bus is a single-attempt pub/sub backend. Subscribe must return only after
// the backend has confirmed the subscription; retry policy lives in the
// Transport, not here.
type Bus interface {
	// Publish sends payload to one channel, fire-and-forget.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe joins the given channels and returns a confirmed subscription.
	Subscribe(ctx context.Context, channels ...string) (*Subscription, error)
}

// Subscription is a live set of channel subscriptions. C is closed when the
// subscription ends.
type Subscription struct {
	C <-chan Msg

	closeOnce sync.Once
	closeFn   func()
}

// NewSubscription wraps a message channel and teardown func. Used by Bus
// implementations.
func NewSubscription(c <-chan Msg, closeFn func()) *Subscription {
	return &Subscription{C: c, closeFn: closeFn}
}

// Close tears the subscription down. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}
