package domain

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Signal message types. Value of the "type" field in every signal envelope.
const (
	SignalTypeOffer      = "offer"
	SignalTypeAnswer     = "answer"
	SignalTypeICE        = "ice-candidate"
	SignalTypeCallEnd    = "call-end"
	SignalTypeCallReject = "call-reject"
)

// SignalMessage is the envelope exchanged over the signaling transport.
// Messages are never persisted; they exist only for the duration of transit.
type SignalMessage struct {
	Type           string                     `json:"type"`
	CallerID       uuid.UUID                  `json:"callerId"`
	CallerName     string                     `json:"callerName"`
	CallType       string                     `json:"callType"` // audio, video
	ConversationID uuid.UUID                  `json:"conversationId"`
	Offer          *webrtc.SessionDescription `json:"offer,omitempty"`     // offer/answer
	Candidate      *webrtc.ICECandidateInit   `json:"candidate,omitempty"` // ice-candidate
}

// IncomingCall is the reconciled view-model surfaced to the UI by the global
// listener. Offer is present only when the fast broadcast path delivered it;
// FromStore marks notifications synthesized from a persisted call record.
type IncomingCall struct {
	CallerID       uuid.UUID                  `json:"callerId"`
	CallerName     string                     `json:"callerName"`
	CallType       string                     `json:"callType"`
	ConversationID uuid.UUID                  `json:"conversationId"`
	Offer          *webrtc.SessionDescription `json:"offer,omitempty"`
	FromStore      bool                       `json:"fromDb"`
}
