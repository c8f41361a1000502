// Package redis holds repositories backed by the shared Redis client.
package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"telecare-backend/internal/database"
	"telecare-backend/pkg/constants"
)

// PresenceRepository stores per-conversation membership sets. Keys expire so
// a crashed client eventually falls out without an explicit leave.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a presence repository.
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func membersKey(conversationID uuid.UUID) string {
	return "presence:members:" + conversationID.String()
}

// Track adds userID to the conversation's membership set and refreshes the
// set's TTL.
func (r *PresenceRepository) Track(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := r.client.SafeSAdd(ctx, membersKey(conversationID), userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to track presence: %w", err)
	}
	if err := r.client.SafeExpire(ctx, membersKey(conversationID), constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence ttl: %w", err)
	}
	return nil
}

// Untrack removes userID from the conversation's membership set.
func (r *PresenceRepository) Untrack(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := r.client.SafeSRem(ctx, membersKey(conversationID), userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to untrack presence: %w", err)
	}
	return nil
}

// Members returns the full membership set for a conversation.
func (r *PresenceRepository) Members(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	raw, err := r.client.SafeSMembers(ctx, membersKey(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load presence members: %w", err)
	}

	members := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			continue // skip malformed entries instead of failing the snapshot
		}
		members = append(members, id)
	}
	return members, nil
}
