package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-backend/internal/domain"
	"telecare-backend/internal/signaling"
	"telecare-backend/pkg/constants"
)

// fakePeer is a scripted PeerConnection.
type fakePeer struct {
	mu         sync.Mutex
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	onState    func(webrtc.PeerConnectionState)
	closed     bool
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakePeer) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteDesc = &desc
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) AddTrack(webrtc.TrackLocal) error { return nil }

func (p *fakePeer) OnICECandidate(func(*webrtc.ICECandidateInit)) {}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) connect() {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(webrtc.PeerConnectionStateConnected)
	}
}

func (p *fakePeer) addedCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(p.candidates))
	copy(out, p.candidates)
	return out
}

// fakeMedia is a scripted Acquirer.
type fakeMedia struct {
	mu       sync.Mutex
	err      error
	acquired int
	released int
}

func (m *fakeMedia) Acquire(context.Context, string) ([]webrtc.TrackLocal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.acquired++
	return nil, nil
}

func (m *fakeMedia) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

func (m *fakeMedia) acquiredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired
}

func (m *fakeMedia) releasedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// fakeStore records fallback-record operations.
type fakeStore struct {
	mu          sync.Mutex
	created     []*domain.CallRecord
	statuses    map[uuid.UUID]string
	cleared     map[uuid.UUID]string
	endedCallID uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses: make(map[uuid.UUID]string),
		cleared:  make(map[uuid.UUID]string),
	}
}

func (s *fakeStore) Create(_ context.Context, call *domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, call)
	return nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, callID uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[callID] = status
	return nil
}

func (s *fakeStore) ClearRinging(_ context.Context, conversationID uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared[conversationID] = status
	return nil
}

func (s *fakeStore) EndCall(_ context.Context, callID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endedCallID = callID
	return nil
}

func (s *fakeStore) clearedStatus(conversationID uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared[conversationID]
}

func (s *fakeStore) status(callID uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[callID]
}

// harness bundles a session with a remote peer observing its signals.
type harness struct {
	bus    *signaling.MemoryBus
	convID uuid.UUID
	selfID uuid.UUID
	peerID uuid.UUID

	peer    *fakePeer
	media   *fakeMedia
	store   *fakeStore
	session *Session

	remote   *signaling.Transport
	received struct {
		mu   sync.Mutex
		msgs []*domain.SignalMessage
	}
	remoteConn *signaling.Conn
}

func newHarness(t *testing.T, cfgMut ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		bus:    signaling.NewMemoryBus(),
		convID: uuid.New(),
		selfID: uuid.New(),
		peerID: uuid.New(),
		peer:   &fakePeer{},
		media:  &fakeMedia{},
		store:  newFakeStore(),
	}

	cfg := Config{
		Transport:    signaling.NewTransport(h.bus, signaling.DefaultNaming(), h.selfID, nil),
		Peers:        func() (PeerConnection, error) { return h.peer, nil },
		Media:        h.media,
		Store:        h.store,
		SelfID:       h.selfID,
		SelfName:     "Pat Doe",
		SetupTimeout: time.Minute,
	}
	for _, mut := range cfgMut {
		mut(&cfg)
	}
	h.session = NewSession(cfg)

	h.remote = signaling.NewTransport(h.bus, signaling.DefaultNaming(), h.peerID, nil)
	conn, err := h.remote.Subscribe(context.Background(), h.convID, func(m *domain.SignalMessage) {
		h.received.mu.Lock()
		h.received.msgs = append(h.received.msgs, m)
		h.received.mu.Unlock()
	})
	require.NoError(t, err)
	h.remoteConn = conn
	t.Cleanup(conn.Close)

	return h
}

func (h *harness) remoteSend(t *testing.T, msg *domain.SignalMessage) {
	t.Helper()
	msg.CallerID = h.peerID
	msg.ConversationID = h.convID
	h.remoteConn.Send(context.Background(), msg)
}

func (h *harness) waitSignal(t *testing.T, signalType string) *domain.SignalMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.received.mu.Lock()
		for _, m := range h.received.msgs {
			if m.Type == signalType {
				h.received.mu.Unlock()
				return m
			}
		}
		h.received.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never received %s signal", signalType)
	return nil
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.session.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state %s never reached, at %s", want, h.session.State())
}

func TestOutgoingCallConnects(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.session.Initiate(context.Background(), h.convID, constants.CallTypeVideo))
	assert.Equal(t, StateRingingOut, h.session.State())

	offer := h.waitSignal(t, domain.SignalTypeOffer)
	assert.Equal(t, "Pat Doe", offer.CallerName)
	require.NotNil(t, offer.Offer)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	h.remoteSend(t, &domain.SignalMessage{Type: domain.SignalTypeAnswer, Offer: &answer})
	h.waitState(t, StateConnecting)

	h.peer.connect()
	h.waitState(t, StateConnected)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.store.status(h.session.CallID()) == "" {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, constants.CallStatusActive, h.store.status(h.session.CallID()))
}

func TestCandidatesQueueUntilRemoteDescription(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Initiate(context.Background(), h.convID, constants.CallTypeAudio))
	h.waitSignal(t, domain.SignalTypeOffer)

	// Candidates race ahead of the answer.
	first := webrtc.ICECandidateInit{Candidate: "candidate:1"}
	second := webrtc.ICECandidateInit{Candidate: "candidate:2"}
	h.remoteSend(t, &domain.SignalMessage{Type: domain.SignalTypeICE, Candidate: &first})
	h.remoteSend(t, &domain.SignalMessage{Type: domain.SignalTypeICE, Candidate: &second})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.peer.addedCandidates())

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	h.remoteSend(t, &domain.SignalMessage{Type: domain.SignalTypeAnswer, Offer: &answer})
	h.waitState(t, StateConnecting)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(h.peer.addedCandidates()) < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	added := h.peer.addedCandidates()
	require.Len(t, added, 2)
	assert.Equal(t, "candidate:1", added[0].Candidate)
	assert.Equal(t, "candidate:2", added[1].Candidate)

	// Late candidates now apply directly.
	third := webrtc.ICECandidateInit{Candidate: "candidate:3"}
	h.remoteSend(t, &domain.SignalMessage{Type: domain.SignalTypeICE, Candidate: &third})
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(h.peer.addedCandidates()) < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Len(t, h.peer.addedCandidates(), 3)
}

func TestSecondOfferRejectedBusy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Initiate(context.Background(), h.convID, constants.CallTypeAudio))
	h.waitSignal(t, domain.SignalTypeOffer)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 intruder"}
	h.remoteSend(t, &domain.SignalMessage{Type: domain.SignalTypeOffer, Offer: &offer, CallerName: "Other"})

	reject := h.waitSignal(t, domain.SignalTypeCallReject)
	assert.Equal(t, h.selfID, reject.CallerID)
	assert.NotEqual(t, StateEnded, h.session.State())
}

func TestNoAnswerTimesOut(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.SetupTimeout = 30 * time.Millisecond })
	require.NoError(t, h.session.Initiate(context.Background(), h.convID, constants.CallTypeAudio))

	h.waitState(t, StateEnded)
	assert.Equal(t, EndReasonNoAnswer, h.session.EndReason())
	assert.Equal(t, constants.CallStatusMissed, h.store.clearedStatus(h.convID))

	// Peer is told the call is over.
	h.waitSignal(t, domain.SignalTypeCallEnd)
}

func TestMediaDeniedEndsBeforeSignaling(t *testing.T) {
	h := newHarness(t)
	h.media.err = ErrMediaDenied

	err := h.session.Initiate(context.Background(), h.convID, constants.CallTypeVideo)
	require.Error(t, err)
	assert.Equal(t, StateEnded, h.session.State())
	assert.Equal(t, EndReasonMediaDenied, h.session.EndReason())

	time.Sleep(50 * time.Millisecond)
	h.received.mu.Lock()
	defer h.received.mu.Unlock()
	assert.Empty(t, h.received.msgs)
}

func TestRemoteHangupThenLocalEndIsNoOp(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Initiate(context.Background(), h.convID, constants.CallTypeAudio))
	h.waitSignal(t, domain.SignalTypeOffer)

	h.remoteSend(t, &domain.SignalMessage{Type: domain.SignalTypeCallEnd})
	h.waitState(t, StateEnded)
	assert.Equal(t, EndReasonRemoteHangup, h.session.EndReason())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.media.releasedCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	released := h.media.releasedCount()
	require.Equal(t, 1, released)

	// Repeated teardown does not run again or change the reason.
	h.session.End(context.Background())
	h.session.End(context.Background())
	assert.Equal(t, EndReasonRemoteHangup, h.session.EndReason())
	assert.Equal(t, released, h.media.releasedCount())
}

func TestRejectSignalEndsOutgoingCall(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.Initiate(context.Background(), h.convID, constants.CallTypeAudio))
	h.waitSignal(t, domain.SignalTypeOffer)

	h.remoteSend(t, &domain.SignalMessage{Type: domain.SignalTypeCallReject})
	h.waitState(t, StateEnded)
	assert.Equal(t, EndReasonRejected, h.session.EndReason())
	assert.Equal(t, constants.CallStatusRejected, h.store.clearedStatus(h.convID))
}

func TestIncomingAcceptPublishesAnswer(t *testing.T) {
	h := newHarness(t)
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}

	require.NoError(t, h.session.ReceiveIncoming(context.Background(), &Handoff{
		ConversationID: h.convID,
		CallerID:       h.peerID,
		CallerName:     "Dr. Ruiz",
		CallType:       constants.CallTypeVideo,
		Offer:          &offer,
	}))
	assert.Equal(t, StateRingingIn, h.session.State())

	// Media untouched while ringing under the lazy policy.
	assert.Zero(t, h.media.acquiredCount())

	require.NoError(t, h.session.Accept(context.Background()))
	assert.Equal(t, StateConnecting, h.session.State())
	assert.Equal(t, 1, h.media.acquiredCount())

	answer := h.waitSignal(t, domain.SignalTypeAnswer)
	require.NotNil(t, answer.Offer)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Offer.Type)
}

// gatedMedia parks Acquire until the gate closes, like a permission prompt
// waiting for the user. entered closes when the prompt opens.
type gatedMedia struct {
	fakeMedia
	entered chan struct{}
	gate    chan struct{}
}

func (m *gatedMedia) Acquire(ctx context.Context, callType string) ([]webrtc.TrackLocal, error) {
	close(m.entered)
	<-m.gate
	return m.fakeMedia.Acquire(ctx, callType)
}

func TestAcceptAbortsWhenRemoteHangsUpDuringMediaPrompt(t *testing.T) {
	gated := &gatedMedia{entered: make(chan struct{}), gate: make(chan struct{})}
	h := newHarness(t, func(c *Config) { c.Media = gated })
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}

	require.NoError(t, h.session.ReceiveIncoming(context.Background(), &Handoff{
		ConversationID: h.convID,
		CallerID:       h.peerID,
		CallerName:     "Dr. Ruiz",
		CallType:       constants.CallTypeAudio,
		Offer:          &offer,
	}))

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- h.session.Accept(context.Background()) }()
	<-gated.entered

	// Caller gives up while the prompt is still open.
	h.remoteSend(t, &domain.SignalMessage{Type: domain.SignalTypeCallEnd})
	h.waitState(t, StateEnded)
	assert.Equal(t, EndReasonRemoteHangup, h.session.EndReason())

	close(gated.gate)
	require.Error(t, <-acceptErr)

	// Ended is terminal: the resumed accept must not revive the session,
	// answer a dead call, or hold on to the freshly granted media.
	assert.Equal(t, StateEnded, h.session.State())
	assert.Equal(t, EndReasonRemoteHangup, h.session.EndReason())

	// Teardown released once; the aborted accept releases what the prompt
	// granted afterwards.
	require.Equal(t, 1, gated.acquiredCount())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && gated.releasedCount() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 2, gated.releasedCount())

	time.Sleep(50 * time.Millisecond)
	h.received.mu.Lock()
	for _, m := range h.received.msgs {
		assert.NotEqual(t, domain.SignalTypeAnswer, m.Type)
	}
	h.received.mu.Unlock()

	h.session.End(context.Background())
	assert.Equal(t, EndReasonRemoteHangup, h.session.EndReason())
}

func TestIncomingFromStoreWaitsForLateOffer(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.session.ReceiveIncoming(context.Background(), &Handoff{
		ConversationID: h.convID,
		CallerID:       h.peerID,
		CallerName:     "Dr. Ruiz",
		CallType:       constants.CallTypeAudio,
		Offer:          nil,
	}))

	// Accept before the offer arrives is refused, session stays ringing.
	require.Error(t, h.session.Accept(context.Background()))
	assert.Equal(t, StateRingingIn, h.session.State())

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	h.remoteSend(t, &domain.SignalMessage{Type: domain.SignalTypeOffer, Offer: &offer})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.session.Accept(context.Background()) == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, StateConnecting, h.session.State())
}

func TestRejectIncomingPublishesRejectAndResolvesRecord(t *testing.T) {
	h := newHarness(t)
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}

	require.NoError(t, h.session.ReceiveIncoming(context.Background(), &Handoff{
		ConversationID: h.convID,
		CallerID:       h.peerID,
		CallType:       constants.CallTypeAudio,
		Offer:          &offer,
	}))

	h.session.Reject(context.Background())
	assert.Equal(t, StateEnded, h.session.State())
	assert.Equal(t, EndReasonRejected, h.session.EndReason())
	h.waitSignal(t, domain.SignalTypeCallReject)
}

func TestMailboxSetOnceConsumeOnce(t *testing.T) {
	mb := NewMailbox()
	first := &Handoff{ConversationID: uuid.New()}

	require.NoError(t, mb.Put(first))
	assert.ErrorIs(t, mb.Put(&Handoff{}), ErrMailboxOccupied)

	got, ok := mb.Take()
	require.True(t, ok)
	assert.Same(t, first, got)

	_, ok = mb.Take()
	assert.False(t, ok)

	// Freed after consumption.
	require.NoError(t, mb.Put(&Handoff{}))
}
