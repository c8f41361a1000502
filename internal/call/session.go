package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"telecare-backend/internal/calllog"
	"telecare-backend/internal/domain"
	"telecare-backend/internal/signaling"
	"telecare-backend/pkg/constants"
	"telecare-backend/pkg/errors"
)

// State is the session's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRingingOut
	StateRingingIn
	StateConnecting
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRingingOut:
		return "ringing-out"
	case StateRingingIn:
		return "ringing-in"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// EndReason explains why a session reached StateEnded.
type EndReason string

const (
	EndReasonNone             EndReason = ""
	EndReasonRemoteHangup     EndReason = "remote-hangup"
	EndReasonRejected         EndReason = "rejected"
	EndReasonNoAnswer         EndReason = "no-answer"
	EndReasonMediaDenied      EndReason = "media-denied"
	EndReasonConnectionFailed EndReason = "connection-failed"
	EndReasonLocalHangup      EndReason = "local-hangup"
)

// RecordStore persists the fallback call records. All store failures are
// logged and swallowed: the broadcast path does not depend on persistence.
type RecordStore interface {
	Create(ctx context.Context, call *domain.CallRecord) error
	UpdateStatus(ctx context.Context, callID uuid.UUID, status string) error
	ClearRinging(ctx context.Context, conversationID uuid.UUID, status string) error
	EndCall(ctx context.Context, callID uuid.UUID) error
}

// Config wires a session's collaborators.
type Config struct {
	Transport *signaling.Transport
	Peers     PeerFactory
	Media     Acquirer
	Store     RecordStore // optional
	Log       *calllog.Log

	SelfID   uuid.UUID
	SelfName string

	// SetupTimeout bounds how long an outgoing call rings unanswered.
	SetupTimeout time.Duration
	MediaPolicy  MediaPolicy

	// OnStateChange observes every transition. Called outside the session
	// lock. Optional.
	OnStateChange func(State, EndReason)

	// StopRecording finalizes any in-flight recording at teardown. Optional.
	StopRecording func()
}

// Session is one call, outgoing or incoming. All exported methods are safe
// for concurrent use.
type Session struct {
	cfg Config
	log *calllog.Log

	mu             sync.Mutex
	state          State
	endReason      EndReason
	callID         uuid.UUID
	conversationID uuid.UUID
	callType       string
	remoteID       uuid.UUID
	remoteName     string
	wasConnected   bool
	connectedAt    time.Time
	endedAt        time.Time

	conn *signaling.Conn
	peer PeerConnection

	pendingOffer *webrtc.SessionDescription
	tracks       []webrtc.TrackLocal
	remoteSet    bool
	queued       []webrtc.ICECandidateInit

	noAnswerTimer *time.Timer
	endOnce       sync.Once
}

// NewSession creates an idle session.
func NewSession(cfg Config) *Session {
	if cfg.Log == nil {
		cfg.Log = calllog.Nop()
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = constants.CallSetupTimeout
	}
	if cfg.MediaPolicy == "" {
		cfg.MediaPolicy = MediaPolicyLazy
	}
	return &Session{cfg: cfg, log: cfg.Log, state: StateIdle}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndReason returns why the session ended, or EndReasonNone while live.
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// CallID returns the persisted record id for this call.
func (s *Session) CallID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// Duration reports connected time. Zero until the call connects.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wasConnected {
		return 0
	}
	if s.state == StateEnded {
		return s.endedAt.Sub(s.connectedAt)
	}
	return time.Since(s.connectedAt)
}

// Initiate places an outgoing call. Media is acquired first: a capture
// failure ends the session with media-denied before anything is signaled.
func (s *Session) Initiate(ctx context.Context, conversationID uuid.UUID, callType string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return errors.CallBusyError()
	}
	s.state = StateRingingOut
	s.conversationID = conversationID
	s.callType = callType
	s.callID = uuid.New()
	s.mu.Unlock()
	s.notify(StateRingingOut, EndReasonNone)

	tracks, err := s.cfg.Media.Acquire(ctx, callType)
	if err != nil {
		s.teardown(ctx, EndReasonMediaDenied, false)
		return errors.MediaDeniedError(err)
	}

	peer, err := s.cfg.Peers()
	if err != nil {
		s.teardown(ctx, EndReasonConnectionFailed, false)
		return errors.ConnectionFailedError(err)
	}
	s.attachPeer(peer, tracks)

	offer, err := peer.CreateOffer()
	if err != nil {
		s.teardown(ctx, EndReasonConnectionFailed, false)
		return errors.ConnectionFailedError(err)
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		s.teardown(ctx, EndReasonConnectionFailed, false)
		return errors.ConnectionFailedError(err)
	}

	conn, err := s.cfg.Transport.Subscribe(ctx, conversationID, func(m *domain.SignalMessage) {
		s.handleSignal(context.Background(), m)
	})
	if err != nil {
		s.teardown(ctx, EndReasonConnectionFailed, false)
		return errors.ConnectionFailedError(err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.persistRinging(ctx)

	conn.Send(ctx, &domain.SignalMessage{
		Type:           domain.SignalTypeOffer,
		CallerID:       s.cfg.SelfID,
		CallerName:     s.cfg.SelfName,
		CallType:       callType,
		ConversationID: conversationID,
		Offer:          &offer,
	})
	s.log.Info("call", "outgoing %s call to conversation %s", callType, conversationID)

	s.mu.Lock()
	s.noAnswerTimer = time.AfterFunc(s.cfg.SetupTimeout, func() {
		s.onNoAnswer(context.Background())
	})
	s.mu.Unlock()

	return nil
}

// ReceiveIncoming arms the session for an accepted incoming call. The offer
// may be absent when the call was detected via the persisted record; the
// session then waits for it on the signal channels. Media acquisition is
// deferred to Accept unless the eager policy is configured.
func (s *Session) ReceiveIncoming(ctx context.Context, h *Handoff) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return errors.CallBusyError()
	}
	s.state = StateRingingIn
	s.conversationID = h.ConversationID
	s.callType = h.CallType
	s.callID = uuid.New()
	s.remoteID = h.CallerID
	s.remoteName = h.CallerName
	s.pendingOffer = h.Offer
	s.mu.Unlock()
	s.notify(StateRingingIn, EndReasonNone)

	conn, err := s.cfg.Transport.Subscribe(ctx, h.ConversationID, func(m *domain.SignalMessage) {
		s.handleSignal(context.Background(), m)
	})
	if err != nil {
		s.teardown(ctx, EndReasonConnectionFailed, false)
		return errors.ConnectionFailedError(err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if s.cfg.MediaPolicy == MediaPolicyEager {
		tracks, err := s.cfg.Media.Acquire(ctx, h.CallType)
		if err != nil {
			s.reject(ctx)
			s.teardown(ctx, EndReasonMediaDenied, false)
			return errors.MediaDeniedError(err)
		}
		s.mu.Lock()
		s.tracks = tracks
		s.mu.Unlock()
	}

	s.log.Info("call", "incoming %s call from %s in conversation %s", h.CallType, h.CallerName, h.ConversationID)
	return nil
}

// Accept answers a ringing incoming call.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRingingIn {
		s.mu.Unlock()
		return errors.InvalidInputError("call is not ringing: " + s.state.String())
	}
	offer := s.pendingOffer
	callType := s.callType
	s.mu.Unlock()

	if offer == nil {
		return errors.InvalidInputError("offer has not arrived yet")
	}

	s.mu.Lock()
	tracks := s.tracks
	s.mu.Unlock()
	if s.cfg.MediaPolicy == MediaPolicyLazy {
		acquired, err := s.cfg.Media.Acquire(ctx, callType)
		if err != nil {
			s.reject(ctx)
			s.teardown(ctx, EndReasonMediaDenied, false)
			return errors.MediaDeniedError(err)
		}
		tracks = acquired
	}

	// The permission prompt can stay open long enough for the remote to
	// hang up, so the session may have been torn down while Acquire was
	// blocked. A terminal state must stay terminal.
	s.mu.Lock()
	if s.state != StateRingingIn {
		st := s.state
		s.mu.Unlock()
		s.cfg.Media.Release()
		return errors.InvalidInputError("call is not ringing: " + st.String())
	}
	s.mu.Unlock()

	peer, err := s.cfg.Peers()
	if err != nil {
		s.teardown(ctx, EndReasonConnectionFailed, false)
		return errors.ConnectionFailedError(err)
	}
	s.attachPeer(peer, tracks)

	if err := peer.SetRemoteDescription(*offer); err != nil {
		s.teardown(ctx, EndReasonConnectionFailed, false)
		return errors.ConnectionFailedError(err)
	}
	s.markRemoteSet(ctx)

	answer, err := peer.CreateAnswer()
	if err != nil {
		s.teardown(ctx, EndReasonConnectionFailed, false)
		return errors.ConnectionFailedError(err)
	}
	if err := peer.SetLocalDescription(answer); err != nil {
		s.teardown(ctx, EndReasonConnectionFailed, false)
		return errors.ConnectionFailedError(err)
	}

	s.mu.Lock()
	if s.state != StateRingingIn {
		st := s.state
		s.mu.Unlock()
		s.cfg.Media.Release()
		if err := peer.Close(); err != nil {
			s.log.Warn("call", "close peer: %v", err)
		}
		return errors.InvalidInputError("call is not ringing: " + st.String())
	}
	s.state = StateConnecting
	conn := s.conn
	s.mu.Unlock()
	s.notify(StateConnecting, EndReasonNone)

	conn.Send(ctx, &domain.SignalMessage{
		Type:           domain.SignalTypeAnswer,
		CallerID:       s.cfg.SelfID,
		CallerName:     s.cfg.SelfName,
		CallType:       callType,
		ConversationID: s.conversationID,
		Offer:          &answer,
	})
	s.log.Info("call", "accepted call in conversation %s", s.conversationID)
	return nil
}

// Reject declines a ringing incoming call.
func (s *Session) Reject(ctx context.Context) {
	s.mu.Lock()
	ringing := s.state == StateRingingIn
	s.mu.Unlock()
	if !ringing {
		return
	}
	s.reject(ctx)
	s.teardown(ctx, EndReasonRejected, false)
}

// End hangs up locally. Safe in any state, any number of times.
func (s *Session) End(ctx context.Context) {
	s.teardown(ctx, EndReasonLocalHangup, true)
}

// attachPeer registers callbacks and adds local tracks.
func (s *Session) attachPeer(peer PeerConnection, tracks []webrtc.TrackLocal) {
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()

	for _, track := range tracks {
		if err := peer.AddTrack(track); err != nil {
			s.log.Warn("call", "add track: %v", err)
		}
	}

	peer.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		s.mu.Lock()
		conn := s.conn
		ended := s.state == StateEnded
		s.mu.Unlock()
		if ended || conn == nil {
			return
		}
		conn.Send(context.Background(), &domain.SignalMessage{
			Type:           domain.SignalTypeICE,
			CallerID:       s.cfg.SelfID,
			ConversationID: s.conversationID,
			Candidate:      c,
		})
	})

	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.onConnected()
		case webrtc.PeerConnectionStateFailed:
			s.teardown(context.Background(), EndReasonConnectionFailed, true)
		}
	})
}

// handleSignal dispatches one remote signal. Runs on the transport pump.
func (s *Session) handleSignal(ctx context.Context, m *domain.SignalMessage) {
	switch m.Type {
	case domain.SignalTypeOffer:
		s.handleOffer(ctx, m)
	case domain.SignalTypeAnswer:
		s.handleAnswer(ctx, m)
	case domain.SignalTypeICE:
		s.handleCandidate(m)
	case domain.SignalTypeCallEnd:
		s.teardown(ctx, EndReasonRemoteHangup, false)
	case domain.SignalTypeCallReject:
		s.mu.Lock()
		out := s.state == StateRingingOut
		s.mu.Unlock()
		if out {
			s.teardown(ctx, EndReasonRejected, false)
		}
	}
}

func (s *Session) handleOffer(ctx context.Context, m *domain.SignalMessage) {
	s.mu.Lock()
	// A fallback-detected incoming call is still waiting for its offer.
	if s.state == StateRingingIn && s.pendingOffer == nil {
		s.pendingOffer = m.Offer
		s.remoteID = m.CallerID
		s.remoteName = m.CallerName
		s.mu.Unlock()
		s.log.Info("call", "late offer arrived for %s", s.conversationID)
		return
	}
	conn := s.conn
	s.mu.Unlock()

	// Any other offer means a second caller: reject busy.
	if conn != nil {
		conn.Send(ctx, &domain.SignalMessage{
			Type:           domain.SignalTypeCallReject,
			CallerID:       s.cfg.SelfID,
			ConversationID: m.ConversationID,
		})
		s.log.Info("call", "busy-rejected offer from %s", m.CallerName)
	}
}

func (s *Session) handleAnswer(ctx context.Context, m *domain.SignalMessage) {
	s.mu.Lock()
	if s.state != StateRingingOut || m.Offer == nil {
		s.mu.Unlock()
		return
	}
	if s.noAnswerTimer != nil {
		s.noAnswerTimer.Stop()
	}
	s.state = StateConnecting
	s.remoteID = m.CallerID
	s.remoteName = m.CallerName
	peer := s.peer
	s.mu.Unlock()
	s.notify(StateConnecting, EndReasonNone)

	if err := peer.SetRemoteDescription(*m.Offer); err != nil {
		s.log.Error("call", "apply answer: %v", err)
		s.teardown(ctx, EndReasonConnectionFailed, true)
		return
	}
	s.markRemoteSet(ctx)
}

// handleCandidate queues candidates that arrive before the remote
// description and applies them in arrival order afterwards.
func (s *Session) handleCandidate(m *domain.SignalMessage) {
	if m.Candidate == nil {
		return
	}
	s.mu.Lock()
	if !s.remoteSet {
		s.queued = append(s.queued, *m.Candidate)
		s.mu.Unlock()
		return
	}
	peer := s.peer
	s.mu.Unlock()

	if err := peer.AddICECandidate(*m.Candidate); err != nil {
		s.log.Warn("call", "add candidate: %v", err)
	}
}

// markRemoteSet flushes the candidate queue in FIFO order.
func (s *Session) markRemoteSet(_ context.Context) {
	s.mu.Lock()
	s.remoteSet = true
	queued := s.queued
	s.queued = nil
	peer := s.peer
	s.mu.Unlock()

	for _, c := range queued {
		if err := peer.AddICECandidate(c); err != nil {
			s.log.Warn("call", "flush candidate: %v", err)
		}
	}
	if len(queued) > 0 {
		s.log.Debug("call", "flushed %d queued candidates", len(queued))
	}
}

func (s *Session) onConnected() {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.wasConnected = true
	s.connectedAt = time.Now()
	if s.noAnswerTimer != nil {
		s.noAnswerTimer.Stop()
	}
	s.mu.Unlock()
	s.notify(StateConnected, EndReasonNone)
	s.log.Info("call", "connected in conversation %s", s.conversationID)

	if s.cfg.Store != nil {
		if err := s.cfg.Store.UpdateStatus(context.Background(), s.callID, constants.CallStatusActive); err != nil {
			s.log.Warn("call", "mark active: %v", err)
		}
	}
}

func (s *Session) onNoAnswer(ctx context.Context) {
	s.mu.Lock()
	ringing := s.state == StateRingingOut
	s.mu.Unlock()
	if !ringing {
		return
	}
	s.log.Info("call", "no answer in conversation %s", s.conversationID)
	s.teardown(ctx, EndReasonNoAnswer, true)
}

// reject publishes a best-effort call-reject.
func (s *Session) reject(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Send(ctx, &domain.SignalMessage{
		Type:           domain.SignalTypeCallReject,
		CallerID:       s.cfg.SelfID,
		ConversationID: s.conversationID,
	})
}

func (s *Session) persistRinging(ctx context.Context) {
	if s.cfg.Store == nil {
		return
	}
	record := &domain.CallRecord{
		CallID:         s.callID,
		ConversationID: s.conversationID,
		CallerID:       s.cfg.SelfID,
		CallType:       s.callType,
		Status:         constants.CallStatusRinging,
		StartedAt:      time.Now(),
	}
	if err := s.cfg.Store.Create(ctx, record); err != nil {
		// Fast path still works without the record; only the fallback
		// detection is weakened.
		s.log.Warn("call", "persist ringing record: %v", err)
	}
}

// teardown is the single exit path. Idempotent: the second and later calls
// do nothing, whatever their reason.
func (s *Session) teardown(ctx context.Context, reason EndReason, publishEnd bool) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.state = StateEnded
		s.endReason = reason
		s.endedAt = time.Now()
		if s.noAnswerTimer != nil {
			s.noAnswerTimer.Stop()
		}
		conn := s.conn
		peer := s.peer
		wasConnected := s.wasConnected
		s.mu.Unlock()

		if s.cfg.StopRecording != nil {
			s.cfg.StopRecording()
		}

		s.cfg.Media.Release()

		if publishEnd && conn != nil {
			conn.Send(ctx, &domain.SignalMessage{
				Type:           domain.SignalTypeCallEnd,
				CallerID:       s.cfg.SelfID,
				ConversationID: s.conversationID,
			})
		}

		s.resolveRecord(ctx, reason, wasConnected)

		if peer != nil {
			if err := peer.Close(); err != nil {
				s.log.Warn("call", "close peer: %v", err)
			}
		}
		if conn != nil {
			conn.Close()
		}

		s.notify(StateEnded, reason)
		s.log.Info("call", "ended (%s) in conversation %s", reason, s.conversationID)
	})
}

// resolveRecord settles the fallback record to a terminal status.
func (s *Session) resolveRecord(ctx context.Context, reason EndReason, wasConnected bool) {
	if s.cfg.Store == nil || s.conversationID == uuid.Nil {
		return
	}

	var err error
	switch {
	case wasConnected:
		err = s.cfg.Store.EndCall(ctx, s.callID)
	case reason == EndReasonNoAnswer:
		err = s.cfg.Store.ClearRinging(ctx, s.conversationID, constants.CallStatusMissed)
	case reason == EndReasonRejected:
		err = s.cfg.Store.ClearRinging(ctx, s.conversationID, constants.CallStatusRejected)
	default:
		err = s.cfg.Store.ClearRinging(ctx, s.conversationID, constants.CallStatusEnded)
	}
	if err != nil {
		s.log.Warn("call", "resolve call record: %v", err)
	}
}

func (s *Session) notify(state State, reason EndReason) {
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state, reason)
	}
}
