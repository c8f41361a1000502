package signaling

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Bus used by tests and by the agent's dry-run
// mode. It fans every publish out to all subscribers of the channel.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[chan Msg]struct{}

	// failSubscribes makes the next N Subscribe calls fail, for exercising
	// the transport's retry path.
	failSubscribes int
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[chan Msg]struct{})}
}

// FailNextSubscribes makes the next n Subscribe calls return an error.
func (b *MemoryBus) FailNextSubscribes(n int) {
	b.mu.Lock()
	b.failSubscribes = n
	b.mu.Unlock()
}

// Publish fans payload out to every subscriber of channel.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	targets := make([]chan Msg, 0, len(b.subs[channel]))
	for ch := range b.subs[channel] {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- Msg{Channel: channel, Payload: payload}:
		default:
			// drop on slow subscriber
		}
	}
	return nil
}

// Subscribe registers for the given channels.
func (b *MemoryBus) Subscribe(ctx context.Context, channels ...string) (*Subscription, error) {
	b.mu.Lock()
	if b.failSubscribes > 0 {
		b.failSubscribes--
		b.mu.Unlock()
		return nil, fmt.Errorf("memory subscribe: injected failure")
	}

	ch := make(chan Msg, 64)
	for _, channel := range channels {
		if b.subs[channel] == nil {
			b.subs[channel] = make(map[chan Msg]struct{})
		}
		b.subs[channel][ch] = struct{}{}
	}
	b.mu.Unlock()

	var once sync.Once
	return NewSubscription(ch, func() {
		b.mu.Lock()
		for _, channel := range channels {
			delete(b.subs[channel], ch)
		}
		b.mu.Unlock()
		once.Do(func() { close(ch) })
	}), nil
}

// SubscriberCount reports how many live subscriptions channel has.
func (b *MemoryBus) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
