package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-backend/internal/domain"
)

type capture struct {
	mu   sync.Mutex
	msgs []*domain.SignalMessage
}

func (c *capture) handle(m *domain.SignalMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *capture) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", n, c.count())
}

func TestTransportDeliversAcrossParties(t *testing.T) {
	bus := NewMemoryBus()
	convID := uuid.New()
	callerID, calleeID := uuid.New(), uuid.New()

	callee := NewTransport(bus, DefaultNaming(), calleeID, nil)
	got := &capture{}
	conn, err := callee.Subscribe(context.Background(), convID, got.handle)
	require.NoError(t, err)
	defer conn.Close()

	caller := NewTransport(bus, DefaultNaming(), callerID, nil)
	caller.Publish(context.Background(), &domain.SignalMessage{
		Type:           domain.SignalTypeOffer,
		CallerID:       callerID,
		CallerName:     "Dr. Tran",
		CallType:       "video",
		ConversationID: convID,
	})

	got.waitFor(t, 1)
	assert.Equal(t, domain.SignalTypeOffer, got.msgs[0].Type)
	assert.Equal(t, callerID, got.msgs[0].CallerID)
}

func TestTransportSuppressesSelfEcho(t *testing.T) {
	bus := NewMemoryBus()
	convID := uuid.New()
	selfID, peerID := uuid.New(), uuid.New()

	tr := NewTransport(bus, DefaultNaming(), selfID, nil)
	got := &capture{}
	conn, err := tr.Subscribe(context.Background(), convID, got.handle)
	require.NoError(t, err)
	defer conn.Close()

	// Own publish lands on the subscribed channels but must not surface.
	tr.Publish(context.Background(), &domain.SignalMessage{
		Type:           domain.SignalTypeOffer,
		CallerID:       selfID,
		ConversationID: convID,
	})
	tr.Publish(context.Background(), &domain.SignalMessage{
		Type:           domain.SignalTypeAnswer,
		CallerID:       peerID,
		ConversationID: convID,
	})

	got.waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, got.count())
	assert.Equal(t, domain.SignalTypeAnswer, got.msgs[0].Type)
}

func TestTransportCollapsesDualChannelFanOut(t *testing.T) {
	bus := NewMemoryBus()
	convID := uuid.New()
	callerID := uuid.New()

	tr := NewTransport(bus, DefaultNaming(), uuid.New(), nil)
	got := &capture{}
	conn, err := tr.Subscribe(context.Background(), convID, got.handle)
	require.NoError(t, err)
	defer conn.Close()

	// An offer fans out to the notify and the legacy channel; the receiver
	// is joined to both but must see it once.
	payload, err := json.Marshal(&domain.SignalMessage{
		Type:           domain.SignalTypeOffer,
		CallerID:       callerID,
		ConversationID: convID,
	})
	require.NoError(t, err)
	naming := DefaultNaming()
	for _, channel := range naming.SendChannels(domain.SignalTypeOffer, convID) {
		require.NoError(t, bus.Publish(context.Background(), channel, payload))
	}

	got.waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, got.count())
}

func TestTransportRetriesSubscribeThenSucceeds(t *testing.T) {
	bus := NewMemoryBus()
	bus.FailNextSubscribes(2)

	tr := NewTransport(bus, DefaultNaming(), uuid.New(), nil)
	tr.SetRetryPolicy(4, time.Millisecond, 4*time.Millisecond)

	conn, err := tr.Subscribe(context.Background(), uuid.New(), func(*domain.SignalMessage) {})
	require.NoError(t, err)
	conn.Close()
}

func TestTransportAbandonsAfterRetryBudget(t *testing.T) {
	bus := NewMemoryBus()
	bus.FailNextSubscribes(10)

	tr := NewTransport(bus, DefaultNaming(), uuid.New(), nil)
	tr.SetRetryPolicy(4, time.Millisecond, 4*time.Millisecond)

	convID := uuid.New()
	_, err := tr.Subscribe(context.Background(), convID, func(*domain.SignalMessage) {})
	require.Error(t, err)

	// Exactly the budgeted attempts were consumed, no more.
	bus.mu.Lock()
	remaining := bus.failSubscribes
	bus.mu.Unlock()
	assert.Equal(t, 6, remaining)
	assert.Zero(t, bus.SubscriberCount(DefaultNaming().GlobalChannel(convID)))
}

func TestConnCloseIsIdempotent(t *testing.T) {
	bus := NewMemoryBus()
	tr := NewTransport(bus, DefaultNaming(), uuid.New(), nil)
	convID := uuid.New()

	conn, err := tr.Subscribe(context.Background(), convID, func(*domain.SignalMessage) {})
	require.NoError(t, err)

	conn.Close()
	conn.Close()
	assert.Zero(t, bus.SubscriberCount(DefaultNaming().GlobalChannel(convID)))
}
