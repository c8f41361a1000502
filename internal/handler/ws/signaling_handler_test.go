package ws

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-backend/internal/domain"
	"telecare-backend/internal/signaling"
)

func newTestClient(hub *SignalingHub, conversationID uuid.UUID) *SignalingClient {
	return &SignalingClient{
		hub:            hub,
		send:           make(chan []byte, 8),
		userID:         uuid.New(),
		conversationID: conversationID,
	}
}

func (h *SignalingHub) counts(conversationID uuid.UUID) (clients, cancels int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID]), len(h.subscriptionCancels)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestHubBroadcastSkipsOrigin(t *testing.T) {
	hub := NewSignalingHub(signaling.NewMemoryBus(), signaling.DefaultNaming(), nil)
	convID := uuid.New()

	alice := newTestClient(hub, convID)
	bob := newTestClient(hub, convID)
	hub.register <- alice
	hub.register <- bob
	waitFor(t, func() bool { n, _ := hub.counts(convID); return n == 2 })

	hub.broadcast <- &domain.SignalMessage{
		Type:           domain.SignalTypeOffer,
		CallerID:       alice.userID,
		ConversationID: convID,
	}

	select {
	case <-bob.send:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the signal")
	}
	select {
	case <-alice.send:
		t.Fatal("signal echoed back to its origin")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubLastUnregisterReleasesSubscription(t *testing.T) {
	hub := NewSignalingHub(signaling.NewMemoryBus(), signaling.DefaultNaming(), nil)
	convID := uuid.New()

	alice := newTestClient(hub, convID)
	bob := newTestClient(hub, convID)
	hub.register <- alice
	hub.register <- bob
	waitFor(t, func() bool { n, cancels := hub.counts(convID); return n == 2 && cancels == 1 })

	// One client leaving keeps the conversation subscription alive.
	hub.unregister <- alice
	waitFor(t, func() bool { n, _ := hub.counts(convID); return n == 1 })
	_, cancels := hub.counts(convID)
	require.Equal(t, 1, cancels)

	// The last one out tears it down completely.
	hub.unregister <- bob
	waitFor(t, func() bool {
		n, cancels := hub.counts(convID)
		return n == 0 && cancels == 0
	})
	n, cancels := hub.counts(convID)
	assert.Zero(t, n)
	assert.Zero(t, cancels)
}
