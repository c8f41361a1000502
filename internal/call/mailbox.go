package call

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// ErrMailboxOccupied is returned by Put when an unconsumed handoff is
// already waiting.
var ErrMailboxOccupied = errors.New("handoff mailbox already occupied")

// Handoff carries an accepted incoming call from the global listener to the
// session that will answer it.
type Handoff struct {
	ConversationID uuid.UUID
	CallerID       uuid.UUID
	CallerName     string
	CallType       string
	// Offer is nil when the call was detected via the persisted record and
	// the session must wait for the offer on the signal channels.
	Offer *webrtc.SessionDescription
}

// Mailbox is a single-slot, set-once/consume-once cell. The listener puts
// the accepted call's handoff; the session view takes it exactly once.
type Mailbox struct {
	mu    sync.Mutex
	value *Handoff
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Put stores a handoff. Fails if a previous handoff has not been taken.
func (m *Mailbox) Put(h *Handoff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.value != nil {
		return ErrMailboxOccupied
	}
	m.value = h
	return nil
}

// Take removes and returns the stored handoff. The second Take returns
// nil, false.
func (m *Mailbox) Take() (*Handoff, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.value
	m.value = nil
	return h, h != nil
}
