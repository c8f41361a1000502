package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telecare-backend/internal/domain"
	"telecare-backend/pkg/constants"
	"telecare-backend/pkg/errors"
)

// CallRepository handles call record operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create inserts a new ringing call record
func (r *CallRepository) Create(ctx context.Context, call *domain.CallRecord) error {
	query := `
		INSERT INTO calls (
			call_id, conversation_id, caller_id, call_type, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.ConversationID,
		call.CallerID,
		call.CallType,
		call.Status,
		call.StartedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}

	return nil
}

// UpdateStatus updates call status
func (r *CallRepository) UpdateStatus(ctx context.Context, callID uuid.UUID, status string) error {
	query := `
		UPDATE calls
		SET status = $2
		WHERE call_id = $1
	`

	_, err := r.pool.Exec(ctx, query, callID, status)
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}

	return nil
}

// EndCall marks a call as ended and calculates duration
func (r *CallRepository) EndCall(ctx context.Context, callID uuid.UUID) error {
	query := `
		UPDATE calls
		SET status = 'ended',
		    ended_at = NOW(),
		    duration = EXTRACT(EPOCH FROM (NOW() - started_at))::INT
		WHERE call_id = $1
	`

	_, err := r.pool.Exec(ctx, query, callID)
	if err != nil {
		return fmt.Errorf("failed to end call: %w", err)
	}

	return nil
}

// ClearRinging resolves a conversation's ringing record to a terminal status
// so the fallback poll stops surfacing it
func (r *CallRepository) ClearRinging(ctx context.Context, conversationID uuid.UUID, status string) error {
	query := `
		UPDATE calls
		SET status = $2,
		    ended_at = NOW()
		WHERE conversation_id = $1 AND status = $3
	`

	_, err := r.pool.Exec(ctx, query, conversationID, status, constants.CallStatusRinging)
	if err != nil {
		return fmt.Errorf("failed to clear ringing record: %w", err)
	}

	return nil
}

// ListRingingSince returns ringing records started after the cutoff. The
// global listener polls this as the persisted fallback feed.
func (r *CallRepository) ListRingingSince(ctx context.Context, since time.Time) ([]*domain.CallRecord, error) {
	query := `
		SELECT call_id, conversation_id, caller_id, call_type, status,
		       started_at, ended_at, duration
		FROM calls
		WHERE status = $1 AND started_at > $2
		ORDER BY started_at ASC
	`

	rows, err := r.pool.Query(ctx, query, constants.CallStatusRinging, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list ringing calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.CallRecord
	for rows.Next() {
		call := &domain.CallRecord{}
		err := rows.Scan(
			&call.CallID,
			&call.ConversationID,
			&call.CallerID,
			&call.CallType,
			&call.Status,
			&call.StartedAt,
			&call.EndedAt,
			&call.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ringing call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}

// GetByID retrieves a call record by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	query := `
		SELECT call_id, conversation_id, caller_id, call_type, status,
		       started_at, ended_at, duration
		FROM calls
		WHERE call_id = $1
	`

	call := &domain.CallRecord{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.CallID,
		&call.ConversationID,
		&call.CallerID,
		&call.CallType,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// ListRecent retrieves the most recent calls involving a user
func (r *CallRepository) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.CallRecord, error) {
	query := `
		SELECT c.call_id, c.conversation_id, c.caller_id, c.call_type, c.status,
		       c.started_at, c.ended_at, c.duration
		FROM calls c
		JOIN conversations cv ON c.conversation_id = cv.conversation_id
		WHERE cv.patient_id = $1 OR cv.doctor_user_id = $1
		ORDER BY c.started_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.CallRecord
	for rows.Next() {
		call := &domain.CallRecord{}
		err := rows.Scan(
			&call.CallID,
			&call.ConversationID,
			&call.CallerID,
			&call.CallType,
			&call.Status,
			&call.StartedAt,
			&call.EndedAt,
			&call.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}
