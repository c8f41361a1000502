// Package push delivers incoming-call alerts to mobile devices. It is the
// third notification leg after the signal broadcast and the persisted
// record: a device with the app backgrounded still rings.
package push

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telecare-backend/pkg/logger"
)

// Provider sends one notification to a set of device tokens.
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
)

// Token is one registered device token.
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	Platform  string    `json:"platform,omitempty"` // ios, android
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository stores and retrieves device tokens.
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	Delete(ctx context.Context, userID uuid.UUID, tokenStr string) error
	MarkInactive(ctx context.Context, tokenStr string) error
}

// Alerter sends call alerts to a user's registered devices.
type Alerter struct {
	provider Provider
	repo     TokenRepository
}

// NewAlerter creates a push alerter.
func NewAlerter(provider Provider, repo TokenRepository) *Alerter {
	return &Alerter{provider: provider, repo: repo}
}

// CallAlert describes the call being announced.
type CallAlert struct {
	CallID         uuid.UUID
	ConversationID uuid.UUID
	CallerID       uuid.UUID
	CallerName     string
	CallType       string
}

// SendIncomingCall alerts the callee's devices about a ringing call. Token
// lookup and delivery failures are logged, never returned: push is
// best-effort on top of the two in-app paths.
func (a *Alerter) SendIncomingCall(ctx context.Context, alert *CallAlert, calleeID uuid.UUID) {
	notification := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", alert.CallerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"type":            "call",
			"call_id":         alert.CallID.String(),
			"conversation_id": alert.ConversationID.String(),
			"caller_id":       alert.CallerID.String(),
			"caller_name":     alert.CallerName,
			"call_type":       alert.CallType,
			"timestamp":       fmt.Sprintf("%d", time.Now().Unix()),
		},
	}
	a.send(ctx, notification, calleeID)
}

// SendMissedCall alerts the callee about a call that rang out.
func (a *Alerter) SendMissedCall(ctx context.Context, alert *CallAlert, calleeID uuid.UUID) {
	notification := &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a call from %s", alert.CallerName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":            "missed_call",
			"call_id":         alert.CallID.String(),
			"conversation_id": alert.ConversationID.String(),
			"caller_name":     alert.CallerName,
		},
	}
	a.send(ctx, notification, calleeID)
}

func (a *Alerter) send(ctx context.Context, notification *Notification, userID uuid.UUID) {
	tokens, err := a.repo.GetByUserID(ctx, userID)
	if err != nil {
		logger.Warn("Failed to get push tokens for user",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	var active []string
	for _, token := range tokens {
		if token.Active {
			active = append(active, token.Token)
		}
	}
	if len(active) == 0 {
		return
	}

	result, err := a.provider.Send(ctx, notification, active)
	if err != nil {
		logger.Error("Failed to send push notification",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	logger.Info("Push notification sent",
		zap.String("user_id", userID.String()),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount))

	for _, invalid := range result.InvalidTokens {
		if err := a.repo.MarkInactive(ctx, invalid); err != nil {
			logger.Warn("Failed to mark push token inactive", zap.Error(err))
		}
	}
}

// MockProvider records sends for development and tests.
type MockProvider struct {
	NotificationsSent int
}

// Send implements Provider.
func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.NotificationsSent++
	logger.Debug("MockProvider: sending notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))
	return &SendResult{SuccessCount: len(tokens)}, nil
}
