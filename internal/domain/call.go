package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallRecord is the persisted fallback record for a call. It is written when
// a call is initiated and observed by the global listener as the secondary
// delivery path when the signaling broadcast is lost.
type CallRecord struct {
	CallID         uuid.UUID  `json:"call_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	CallerID       uuid.UUID  `json:"caller_id"`
	CallType       string     `json:"call_type"` // audio, video
	Status         string     `json:"status"`    // ringing, active, ended, rejected, missed
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Duration       int        `json:"duration,omitempty"` // in seconds
}
