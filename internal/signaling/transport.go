package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecare-backend/internal/calllog"
	"telecare-backend/internal/domain"
	"telecare-backend/pkg/constants"
)

// recentWindow is how many payload hashes a Conn remembers for duplicate
// suppression across the fanned-out channel set.
const recentWindow = 32

// Transport exchanges SignalMessages for conversations over a Bus. It owns
// the bounded subscription retry and the self-echo filter.
type Transport struct {
	bus    Bus
	naming Naming
	selfID uuid.UUID
	log    *calllog.Log

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewTransport creates a Transport for one local identity.
func NewTransport(bus Bus, naming Naming, selfID uuid.UUID, log *calllog.Log) *Transport {
	if log == nil {
		log = calllog.Nop()
	}
	return &Transport{
		bus:         bus,
		naming:      naming,
		selfID:      selfID,
		log:         log,
		maxAttempts: constants.SubscribeMaxAttempts,
		baseDelay:   constants.SubscribeBaseDelay,
		maxDelay:    constants.SubscribeMaxDelay,
	}
}

// SetRetryPolicy overrides the subscription retry bounds. Used by tests to
// keep backoff delays short.
func (t *Transport) SetRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) {
	t.maxAttempts = maxAttempts
	t.baseDelay = baseDelay
	t.maxDelay = maxDelay
}

// Conn is one conversation's live signaling handle.
type Conn struct {
	transport      *Transport
	conversationID uuid.UUID
	sub            *Subscription

	mu     sync.Mutex
	recent []uint64

	closeOnce sync.Once
	done      chan struct{}
}

// Subscribe joins every channel of the conversation's logical signal stream
// and invokes handler once per distinct received message. Self-originated
// messages (matched by caller id) are discarded to avoid echo. Subscription
// failures are retried with exponential backoff up to the configured attempt
// cap; after that the error is returned and the caller degrades to the
// persisted-record fallback.
func (t *Transport) Subscribe(ctx context.Context, conversationID uuid.UUID, handler func(*domain.SignalMessage)) (*Conn, error) {
	channels := t.naming.ReceiveChannels(conversationID)

	var sub *Subscription
	var err error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		sub, err = t.bus.Subscribe(ctx, channels...)
		if err == nil {
			break
		}

		t.log.Warn("transport", "subscribe attempt %d/%d for %s failed: %v",
			attempt, t.maxAttempts, conversationID, err)

		if attempt == t.maxAttempts {
			return nil, fmt.Errorf("subscribe %s: %w", conversationID, err)
		}

		delay := t.baseDelay << (attempt - 1)
		if delay > t.maxDelay {
			delay = t.maxDelay
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	c := &Conn{
		transport:      t,
		conversationID: conversationID,
		sub:            sub,
		done:           make(chan struct{}),
	}

	go c.pump(handler)

	t.log.Info("transport", "subscribed to %d channels for %s", len(channels), conversationID)
	return c, nil
}

func (c *Conn) pump(handler func(*domain.SignalMessage)) {
	for {
		select {
		case <-c.done:
			return
		case m, ok := <-c.sub.C:
			if !ok {
				return
			}

			var msg domain.SignalMessage
			if err := json.Unmarshal(m.Payload, &msg); err != nil {
				c.transport.log.Warn("transport", "undecodable signal on %s: %v", m.Channel, err)
				continue
			}

			// Self-echo suppression.
			if msg.CallerID == c.transport.selfID {
				continue
			}

			// The same signal fans out across the notify generations and the
			// legacy channel; collapse the copies into one delivery.
			if c.seen(m.Payload) {
				continue
			}

			handler(&msg)
		}
	}
}

// seen records the payload hash and reports whether it was already delivered.
func (c *Conn) seen(payload []byte) bool {
	h := fnv.New64a()
	h.Write(payload)
	sum := h.Sum64()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, prev := range c.recent {
		if prev == sum {
			return true
		}
	}
	c.recent = append(c.recent, sum)
	if len(c.recent) > recentWindow {
		c.recent = c.recent[1:]
	}
	return false
}

// Send publishes msg to every channel of its type, fire-and-forget. Publish
// errors are logged, never returned: there is no acknowledgement at this
// layer and no application-level retry.
func (c *Conn) Send(ctx context.Context, msg *domain.SignalMessage) {
	c.transport.Publish(ctx, msg)
}

// Publish sends msg on the conversation's channels without requiring an open
// Conn. Used for short-lived sends such as the listener's best-effort reject.
func (t *Transport) Publish(ctx context.Context, msg *domain.SignalMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		t.log.Error("transport", "marshal %s signal: %v", msg.Type, err)
		return
	}

	for _, channel := range t.naming.SendChannels(msg.Type, msg.ConversationID) {
		if err := t.bus.Publish(ctx, channel, payload); err != nil {
			t.log.Warn("transport", "publish %s to %s: %v", msg.Type, channel, err)
		}
	}
}

// ConversationID returns the conversation this handle is bound to.
func (c *Conn) ConversationID() uuid.UUID {
	return c.conversationID
}

// Close tears down the channel subscriptions. Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sub.Close()
	})
}
