package listener

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecare-backend/internal/call"
	"telecare-backend/internal/calllog"
	"telecare-backend/internal/domain"
	"telecare-backend/internal/signaling"
	"telecare-backend/pkg/constants"
	"telecare-backend/pkg/errors"
)

// ConversationSource enumerates an identity's conversations and resolves
// caller display names.
type ConversationSource interface {
	ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
}

// TiePolicy resolves two simultaneous incoming calls from different
// conversations. It returns the call to display.
type TiePolicy func(current, candidate *domain.IncomingCall) *domain.IncomingCall

// FirstWins keeps the already-displayed call and drops the later one.
func FirstWins(current, _ *domain.IncomingCall) *domain.IncomingCall {
	return current
}

// Config wires the listener's collaborators.
type Config struct {
	Transport     *signaling.Transport
	Conversations ConversationSource
	Feed          RingingFeed
	Mailbox       *call.Mailbox
	Log           *calllog.Log

	SelfID uuid.UUID
	Tie    TiePolicy

	// OnIncoming fires when the displayed notification changes to a new
	// call; OnCleared when it is dismissed. Optional.
	OnIncoming func(*domain.IncomingCall)
	OnCleared  func(conversationID uuid.UUID)

	// Navigate hands an accepted call to the embedding caller.
	Navigate func(conversationID uuid.UUID, autoAccept bool)

	// RejectGrace delays Close after a reject so the signal drains.
	RejectGrace time.Duration
}

// Listener is the per-identity global incoming-call watcher.
type Listener struct {
	cfg     Config
	log     *calllog.Log
	watcher *Watcher

	mu         sync.Mutex
	selfID     uuid.UUID
	conns      map[uuid.UUID]*signaling.Conn
	known      map[uuid.UUID]struct{}
	current    *domain.IncomingCall
	seen       map[uuid.UUID]struct{}
	lastReject time.Time
	cancel     context.CancelFunc
	closed     bool
}

// New creates a listener. Call Start to begin watching.
func New(cfg Config) *Listener {
	if cfg.Log == nil {
		cfg.Log = calllog.Nop()
	}
	if cfg.Tie == nil {
		cfg.Tie = FirstWins
	}
	if cfg.RejectGrace <= 0 {
		cfg.RejectGrace = constants.RejectGracePeriod
	}
	return &Listener{
		cfg:     cfg,
		log:     cfg.Log,
		watcher: NewWatcher(cfg.Feed, cfg.Log),
		selfID:  cfg.SelfID,
		conns:   make(map[uuid.UUID]*signaling.Conn),
		known:   make(map[uuid.UUID]struct{}),
		seen:    make(map[uuid.UUID]struct{}),
	}
}

// Watcher exposes the fallback poller for cadence tuning.
func (l *Listener) Watcher() *Watcher {
	return l.watcher
}

// Start enumerates the identity's conversations, subscribes each one, and
// launches the fallback poll. A conversation whose subscription exhausts its
// retries is skipped silently; the fallback still covers it.
func (l *Listener) Start(ctx context.Context) error {
	if err := l.resubscribe(ctx); err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	go l.watcher.Run(watchCtx, func(records []*domain.CallRecord) {
		l.handleRecords(context.Background(), records)
	})

	return nil
}

func (l *Listener) resubscribe(ctx context.Context) error {
	l.mu.Lock()
	selfID := l.selfID
	l.mu.Unlock()

	conversations, err := l.cfg.Conversations.ListByParticipant(ctx, selfID)
	if err != nil {
		return err
	}

	conns := make(map[uuid.UUID]*signaling.Conn, len(conversations))
	known := make(map[uuid.UUID]struct{}, len(conversations))
	for _, conv := range conversations {
		convID := conv.ConversationID
		known[convID] = struct{}{}

		conn, err := l.cfg.Transport.Subscribe(ctx, convID, func(m *domain.SignalMessage) {
			l.handleSignal(m)
		})
		if err != nil {
			// Broadcast path unavailable for this conversation; the
			// persisted-record poll remains.
			l.log.Warn("listener", "subscription abandoned for %s: %v", convID, err)
			continue
		}
		conns[convID] = conn
	}

	l.mu.Lock()
	old := l.conns
	l.conns = conns
	l.known = known
	l.mu.Unlock()

	for _, conn := range old {
		conn.Close()
	}

	l.log.Info("listener", "watching %d conversations (%d subscribed)", len(known), len(conns))
	return nil
}

// handleSignal processes one fast-path broadcast.
func (l *Listener) handleSignal(m *domain.SignalMessage) {
	switch m.Type {
	case domain.SignalTypeOffer:
		l.present(&domain.IncomingCall{
			CallerID:       m.CallerID,
			CallerName:     m.CallerName,
			CallType:       m.CallType,
			ConversationID: m.ConversationID,
			Offer:          m.Offer,
			FromStore:      false,
		})
	case domain.SignalTypeCallEnd, domain.SignalTypeCallReject:
		l.clearConversation(m.ConversationID)
	}
}

// handleRecords processes one fallback poll batch.
func (l *Listener) handleRecords(ctx context.Context, records []*domain.CallRecord) {
	l.mu.Lock()
	selfID := l.selfID
	l.mu.Unlock()

	inBatch := make(map[uuid.UUID]struct{}, len(records))
	for _, record := range records {
		inBatch[record.CallID] = struct{}{}

		l.mu.Lock()
		_, known := l.known[record.ConversationID]
		_, done := l.seen[record.CallID]
		l.mu.Unlock()
		if !known || done || record.CallerID == selfID {
			continue
		}

		l.mu.Lock()
		l.seen[record.CallID] = struct{}{}
		l.mu.Unlock()

		callerName := "Incoming Call"
		if profile, err := l.cfg.Conversations.GetProfile(ctx, record.CallerID); err == nil {
			callerName = profile.DisplayName
		} else {
			l.log.Warn("listener", "caller name lookup for %s: %v", record.CallerID, err)
		}

		l.log.Info("listener", "ringing record detected for %s", record.ConversationID)
		l.present(&domain.IncomingCall{
			CallerID:       record.CallerID,
			CallerName:     callerName,
			CallType:       record.CallType,
			ConversationID: record.ConversationID,
			FromStore:      true,
		})
	}

	// Records that left the ringing window free their dedup entries.
	l.mu.Lock()
	for id := range l.seen {
		if _, ok := inBatch[id]; !ok {
			delete(l.seen, id)
		}
	}
	l.mu.Unlock()
}

// present reconciles a candidate notification against the displayed one.
// The fast path upgrades a fallback notification for the same conversation;
// a fallback candidate never replaces a fast-path one. A candidate from a
// different conversation goes through the tie policy.
func (l *Listener) present(candidate *domain.IncomingCall) {
	l.mu.Lock()
	current := l.current

	switch {
	case current == nil:
		l.current = candidate
	case current.ConversationID == candidate.ConversationID:
		if current.FromStore && !candidate.FromStore {
			l.current = candidate
		}
	default:
		l.current = l.cfg.Tie(current, candidate)
	}

	displayed := l.current
	changed := displayed != current
	l.mu.Unlock()

	if changed && l.cfg.OnIncoming != nil {
		l.cfg.OnIncoming(displayed)
	}
	if !changed && displayed != candidate {
		l.log.Debug("listener", "dropped concurrent ring from %s", candidate.ConversationID)
	}
}

func (l *Listener) clearConversation(conversationID uuid.UUID) {
	l.mu.Lock()
	cleared := l.current != nil && l.current.ConversationID == conversationID
	if cleared {
		l.current = nil
	}
	l.mu.Unlock()

	if cleared {
		if l.cfg.OnCleared != nil {
			l.cfg.OnCleared(conversationID)
		}
		l.log.Info("listener", "notification cleared for %s", conversationID)
	}
}

// Current returns the displayed notification, or nil.
func (l *Listener) Current() *domain.IncomingCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Accept hands the displayed call to the call view through the mailbox and
// emits the navigation event.
func (l *Listener) Accept(ctx context.Context) error {
	l.mu.Lock()
	current := l.current
	l.current = nil
	l.mu.Unlock()

	if current == nil {
		return errors.CallNotFoundError()
	}

	if err := l.cfg.Mailbox.Put(&call.Handoff{
		ConversationID: current.ConversationID,
		CallerID:       current.CallerID,
		CallerName:     current.CallerName,
		CallType:       current.CallType,
		Offer:          current.Offer,
	}); err != nil {
		return err
	}

	if l.cfg.OnCleared != nil {
		l.cfg.OnCleared(current.ConversationID)
	}
	if l.cfg.Navigate != nil {
		l.cfg.Navigate(current.ConversationID, true)
	}
	l.log.Info("listener", "accepted call in %s", current.ConversationID)
	return nil
}

// Reject declines the displayed call with a best-effort signal.
func (l *Listener) Reject(ctx context.Context) {
	l.mu.Lock()
	current := l.current
	l.current = nil
	if current != nil {
		l.lastReject = time.Now()
	}
	selfID := l.selfID
	l.mu.Unlock()

	if current == nil {
		return
	}

	l.cfg.Transport.Publish(ctx, &domain.SignalMessage{
		Type:           domain.SignalTypeCallReject,
		CallerID:       selfID,
		ConversationID: current.ConversationID,
	})

	if l.cfg.OnCleared != nil {
		l.cfg.OnCleared(current.ConversationID)
	}
	l.log.Info("listener", "rejected call in %s", current.ConversationID)
}

// SetIdentity switches the watched identity: full re-enumeration and
// resubscription, notification state reset.
func (l *Listener) SetIdentity(ctx context.Context, userID uuid.UUID) error {
	l.mu.Lock()
	l.selfID = userID
	l.current = nil
	l.seen = make(map[uuid.UUID]struct{})
	l.mu.Unlock()

	return l.resubscribe(ctx)
}

// Close tears every subscription down. Idempotent. A reject published
// within the grace window delays teardown until the window passes.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	cancel := l.cancel
	conns := l.conns
	l.conns = make(map[uuid.UUID]*signaling.Conn)
	grace := time.Until(l.lastReject.Add(l.cfg.RejectGrace))
	l.mu.Unlock()

	if grace > 0 {
		time.Sleep(grace)
	}

	if cancel != nil {
		cancel()
	}
	for _, conn := range conns {
		conn.Close()
	}
	l.log.Info("listener", "closed")
}
