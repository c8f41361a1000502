// Package presence tracks which participants of a conversation are currently
// reachable. Membership lives in a shared store; peers announce changes with
// beacons on the conversation's presence channel and every beacon triggers a
// full snapshot reload, so the online set is always replaced whole.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecare-backend/internal/calllog"
	"telecare-backend/internal/signaling"
	"telecare-backend/pkg/constants"
)

// Beacon event names.
const (
	eventJoin  = "join"
	eventLeave = "leave"
	eventSync  = "sync"
)

type beacon struct {
	Event  string    `json:"event"`
	UserID uuid.UUID `json:"userId"`
}

// MembershipStore persists the per-conversation member set.
type MembershipStore interface {
	Track(ctx context.Context, conversationID, userID uuid.UUID) error
	Untrack(ctx context.Context, conversationID, userID uuid.UUID) error
	Members(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
}

// Tracker maintains presence for one identity across any number of
// conversations, each tracked independently.
type Tracker struct {
	bus    signaling.Bus
	naming signaling.Naming
	store  MembershipStore
	selfID uuid.UUID
	log    *calllog.Log

	syncInterval time.Duration

	mu    sync.Mutex
	rooms map[uuid.UUID]*room
}

type room struct {
	conversationID uuid.UUID
	sub            *signaling.Subscription
	cancel         context.CancelFunc

	mu     sync.Mutex
	online map[uuid.UUID]struct{}
}

// NewTracker creates a presence tracker for one local identity.
func NewTracker(bus signaling.Bus, naming signaling.Naming, store MembershipStore, selfID uuid.UUID, log *calllog.Log) *Tracker {
	if log == nil {
		log = calllog.Nop()
	}
	return &Tracker{
		bus:          bus,
		naming:       naming,
		store:        store,
		selfID:       selfID,
		log:          log,
		syncInterval: constants.PresenceSyncInterval,
		rooms:        make(map[uuid.UUID]*room),
	}
}

// SetSyncInterval overrides the periodic sync beacon cadence. Used by tests.
func (t *Tracker) SetSyncInterval(d time.Duration) {
	t.syncInterval = d
}

// Join starts tracking presence in a conversation. The membership store is
// written only after the channel subscription is confirmed, so a peer's join
// beacon can never race ahead of our ability to hear the reply. Joining a
// conversation already joined is a no-op.
func (t *Tracker) Join(ctx context.Context, conversationID uuid.UUID) error {
	t.mu.Lock()
	if _, ok := t.rooms[conversationID]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	sub, err := t.bus.Subscribe(ctx, t.naming.PresenceChannel(conversationID))
	if err != nil {
		return err
	}

	// Subscription confirmed; now it is safe to appear in the store.
	if err := t.store.Track(ctx, conversationID, t.selfID); err != nil {
		sub.Close()
		return err
	}

	roomCtx, cancel := context.WithCancel(context.Background())
	r := &room{
		conversationID: conversationID,
		sub:            sub,
		cancel:         cancel,
		online:         make(map[uuid.UUID]struct{}),
	}

	t.mu.Lock()
	t.rooms[conversationID] = r
	t.mu.Unlock()

	t.reload(roomCtx, r)
	t.broadcast(ctx, conversationID, eventJoin)

	go t.watch(roomCtx, r)
	go t.heartbeat(roomCtx, r)

	t.log.Info("presence", "joined %s", conversationID)
	return nil
}

// watch consumes beacons. Any beacon means the set changed (or might have);
// the response is always a full reload, never an incremental patch.
func (t *Tracker) watch(ctx context.Context, r *room) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-r.sub.C:
			if !ok {
				return
			}
			var b beacon
			if err := json.Unmarshal(m.Payload, &b); err != nil {
				t.log.Warn("presence", "undecodable beacon on %s: %v", m.Channel, err)
				continue
			}
			t.reload(ctx, r)
		}
	}
}

// heartbeat refreshes our store entry and emits periodic sync beacons so
// peers with stale sets converge.
func (t *Tracker) heartbeat(ctx context.Context, r *room) {
	ticker := time.NewTicker(t.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.store.Track(ctx, r.conversationID, t.selfID); err != nil {
				t.log.Warn("presence", "ttl refresh for %s: %v", r.conversationID, err)
			}
			t.broadcast(ctx, r.conversationID, eventSync)
		}
	}
}

// reload replaces the room's online set with a fresh snapshot from the
// store. On load failure the previous set is kept.
func (t *Tracker) reload(ctx context.Context, r *room) {
	members, err := t.store.Members(ctx, r.conversationID)
	if err != nil {
		t.log.Warn("presence", "snapshot reload for %s: %v", r.conversationID, err)
		return
	}

	online := make(map[uuid.UUID]struct{}, len(members))
	for _, id := range members {
		online[id] = struct{}{}
	}

	r.mu.Lock()
	r.online = online
	r.mu.Unlock()
}

func (t *Tracker) broadcast(ctx context.Context, conversationID uuid.UUID, event string) {
	payload, err := json.Marshal(beacon{Event: event, UserID: t.selfID})
	if err != nil {
		return
	}
	if err := t.bus.Publish(ctx, t.naming.PresenceChannel(conversationID), payload); err != nil {
		t.log.Warn("presence", "%s beacon for %s: %v", event, conversationID, err)
	}
}

// IsOnline reports whether userID is in the conversation's online set.
func (t *Tracker) IsOnline(conversationID, userID uuid.UUID) bool {
	t.mu.Lock()
	r, ok := t.rooms[conversationID]
	t.mu.Unlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, online := r.online[userID]
	return online
}

// Leave stops tracking one conversation. Errors from the store and the bus
// are swallowed: leave must always succeed from the caller's point of view,
// including when Join never completed.
func (t *Tracker) Leave(ctx context.Context, conversationID uuid.UUID) {
	t.mu.Lock()
	r, ok := t.rooms[conversationID]
	delete(t.rooms, conversationID)
	t.mu.Unlock()
	if !ok {
		return
	}

	if err := t.store.Untrack(ctx, conversationID, t.selfID); err != nil {
		t.log.Warn("presence", "untrack %s: %v", conversationID, err)
	}
	t.broadcast(ctx, conversationID, eventLeave)

	r.cancel()
	r.sub.Close()

	t.log.Info("presence", "left %s", conversationID)
}

// Close leaves every tracked conversation.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	ids := make([]uuid.UUID, 0, len(t.rooms))
	for id := range t.rooms {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.Leave(ctx, id)
	}
}
