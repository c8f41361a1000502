package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation identifies a persistent patient↔doctor relationship. The call
// subsystem only consumes its id as a topic key; it never creates or deletes
// conversations.
type Conversation struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	// DoctorUserID is the doctor's underlying account identifier; DoctorID
	// keys the professional profile.
	DoctorUserID   uuid.UUID  `json:"doctor_user_id"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	LastMessage    string     `json:"last_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Participants returns the account identifiers on both sides of the
// conversation.
func (c *Conversation) Participants() []uuid.UUID {
	return []uuid.UUID{c.PatientID, c.DoctorUserID}
}

// HasParticipant reports whether userID is on either side of the conversation.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.PatientID == userID || c.DoctorUserID == userID
}

// Profile is the minimal directory entry used to resolve caller display names.
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"` // patient, doctor, admin
}
