package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telecare-backend/internal/domain"
	"telecare-backend/pkg/errors"
)

// ConversationRepository handles conversation lookups. The call subsystem
// only reads conversations; creation belongs to the messaging service.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, patient_id, doctor_id, doctor_user_id,
		       last_message_at, last_message, created_at
		FROM conversations
		WHERE conversation_id = $1
	`

	conv := &domain.Conversation{}
	err := r.pool.QueryRow(ctx, query, conversationID).Scan(
		&conv.ConversationID,
		&conv.PatientID,
		&conv.DoctorID,
		&conv.DoctorUserID,
		&conv.LastMessageAt,
		&conv.LastMessage,
		&conv.CreatedAt,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ConversationNotFoundError()
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conv, nil
}

// ListByParticipant retrieves every conversation the user appears in, on
// either side. A doctor's account id matches through doctor_user_id, so one
// query covers both roles.
func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	query := `
		SELECT conversation_id, patient_id, doctor_id, doctor_user_id,
		       last_message_at, last_message, created_at
		FROM conversations
		WHERE patient_id = $1 OR doctor_user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conv := &domain.Conversation{}
		err := rows.Scan(
			&conv.ConversationID,
			&conv.PatientID,
			&conv.DoctorID,
			&conv.DoctorUserID,
			&conv.LastMessageAt,
			&conv.LastMessage,
			&conv.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}

	return conversations, nil
}

// GetProfile resolves a user's display name and role
func (r *ConversationRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	query := `
		SELECT user_id, display_name, role
		FROM profiles
		WHERE user_id = $1
	`

	profile := &domain.Profile{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.DisplayName,
		&profile.Role,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFoundError("profile")
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return profile, nil
}
