package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-backend/internal/signaling"
)

// memStore is an in-memory MembershipStore.
type memStore struct {
	mu   sync.Mutex
	sets map[uuid.UUID]map[uuid.UUID]struct{}

	trackErr   error
	untrackErr error
}

func newMemStore() *memStore {
	return &memStore{sets: make(map[uuid.UUID]map[uuid.UUID]struct{})}
}

func (s *memStore) Track(_ context.Context, conv, user uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackErr != nil {
		return s.trackErr
	}
	if s.sets[conv] == nil {
		s.sets[conv] = make(map[uuid.UUID]struct{})
	}
	s.sets[conv][user] = struct{}{}
	return nil
}

func (s *memStore) Untrack(_ context.Context, conv, user uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.untrackErr != nil {
		return s.untrackErr
	}
	delete(s.sets[conv], user)
	return nil
}

func (s *memStore) Members(_ context.Context, conv uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, 0, len(s.sets[conv]))
	for id := range s.sets[conv] {
		out = append(out, id)
	}
	return out, nil
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestJoinTracksAfterSubscribeAndSeesPeers(t *testing.T) {
	bus := signaling.NewMemoryBus()
	store := newMemStore()
	convID := uuid.New()
	aliceID, bobID := uuid.New(), uuid.New()

	alice := NewTracker(bus, signaling.DefaultNaming(), store, aliceID, nil)
	require.NoError(t, alice.Join(context.Background(), convID))
	defer alice.Close(context.Background())

	bob := NewTracker(bus, signaling.DefaultNaming(), store, bobID, nil)
	require.NoError(t, bob.Join(context.Background(), convID))
	defer bob.Close(context.Background())

	// Bob's join beacon makes alice reload the full set.
	waitUntil(t, func() bool { return alice.IsOnline(convID, bobID) })
	assert.True(t, alice.IsOnline(convID, aliceID))
	assert.True(t, bob.IsOnline(convID, aliceID))
}

func TestLeaveBeaconEvictsPeerFromSnapshot(t *testing.T) {
	bus := signaling.NewMemoryBus()
	store := newMemStore()
	convID := uuid.New()
	aliceID, bobID := uuid.New(), uuid.New()

	alice := NewTracker(bus, signaling.DefaultNaming(), store, aliceID, nil)
	require.NoError(t, alice.Join(context.Background(), convID))
	defer alice.Close(context.Background())

	bob := NewTracker(bus, signaling.DefaultNaming(), store, bobID, nil)
	require.NoError(t, bob.Join(context.Background(), convID))
	waitUntil(t, func() bool { return alice.IsOnline(convID, bobID) })

	bob.Leave(context.Background(), convID)

	// The set is replaced whole on the leave beacon, never patched.
	waitUntil(t, func() bool { return !alice.IsOnline(convID, bobID) })
	assert.True(t, alice.IsOnline(convID, aliceID))
}

func TestJoinFailureDoesNotTrack(t *testing.T) {
	bus := signaling.NewMemoryBus()
	bus.FailNextSubscribes(1)
	store := newMemStore()
	convID := uuid.New()
	selfID := uuid.New()

	tracker := NewTracker(bus, signaling.DefaultNaming(), store, selfID, nil)
	err := tracker.Join(context.Background(), convID)
	require.Error(t, err)

	// Never appeared in the store, and Leave is still safe.
	members, _ := store.Members(context.Background(), convID)
	assert.Empty(t, members)
	tracker.Leave(context.Background(), convID)
}

func TestLeaveSwallowsStoreErrors(t *testing.T) {
	bus := signaling.NewMemoryBus()
	store := newMemStore()
	convID := uuid.New()

	tracker := NewTracker(bus, signaling.DefaultNaming(), store, uuid.New(), nil)
	require.NoError(t, tracker.Join(context.Background(), convID))

	store.mu.Lock()
	store.untrackErr = assert.AnError
	store.mu.Unlock()

	// Must not panic or error surface; room is gone either way.
	tracker.Leave(context.Background(), convID)
	assert.False(t, tracker.IsOnline(convID, uuid.New()))
}

func TestConversationsTrackedIndependently(t *testing.T) {
	bus := signaling.NewMemoryBus()
	store := newMemStore()
	convA, convB := uuid.New(), uuid.New()
	selfID, peerID := uuid.New(), uuid.New()

	tracker := NewTracker(bus, signaling.DefaultNaming(), store, selfID, nil)
	require.NoError(t, tracker.Join(context.Background(), convA))
	require.NoError(t, tracker.Join(context.Background(), convB))
	defer tracker.Close(context.Background())

	peer := NewTracker(bus, signaling.DefaultNaming(), store, peerID, nil)
	require.NoError(t, peer.Join(context.Background(), convA))
	defer peer.Close(context.Background())

	waitUntil(t, func() bool { return tracker.IsOnline(convA, peerID) })
	assert.False(t, tracker.IsOnline(convB, peerID))

	tracker.Leave(context.Background(), convA)
	assert.True(t, tracker.IsOnline(convB, selfID))
}
