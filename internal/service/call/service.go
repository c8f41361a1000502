// Package call implements the service-side orchestration of a call: the
// persisted record, the signal relay, and the push alert to the callee.
package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"telecare-backend/internal/domain"
	"telecare-backend/pkg/constants"
	"telecare-backend/pkg/errors"
	"telecare-backend/pkg/metrics"
	"telecare-backend/pkg/push"
)

// CallStore persists call records.
type CallStore interface {
	Create(ctx context.Context, call *domain.CallRecord) error
	UpdateStatus(ctx context.Context, callID uuid.UUID, status string) error
	EndCall(ctx context.Context, callID uuid.UUID) error
	ClearRinging(ctx context.Context, conversationID uuid.UUID, status string) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error)
	ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.CallRecord, error)
}

// ConversationStore reads conversations and member profiles.
type ConversationStore interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
}

// SignalPublisher fans a signal out on the conversation's channels.
type SignalPublisher interface {
	Publish(ctx context.Context, msg *domain.SignalMessage)
}

// Alerter pushes call alerts to a user's devices.
type Alerter interface {
	SendIncomingCall(ctx context.Context, alert *push.CallAlert, calleeID uuid.UUID)
	SendMissedCall(ctx context.Context, alert *push.CallAlert, calleeID uuid.UUID)
}

// Service handles call business logic
type Service struct {
	callRepo CallStore
	convRepo ConversationStore
	signals  SignalPublisher
	alerter  Alerter
	metrics  *metrics.Metrics
}

// NewService creates a new call service
func NewService(callRepo CallStore, convRepo ConversationStore, signals SignalPublisher, alerter Alerter, m *metrics.Metrics) *Service {
	return &Service{
		callRepo: callRepo,
		convRepo: convRepo,
		signals:  signals,
		alerter:  alerter,
		metrics:  m,
	}
}

// InitiateCallInput contains call initiation data
type InitiateCallInput struct {
	ConversationID uuid.UUID
	CallerID       uuid.UUID
	CallType       string
	Offer          *webrtc.SessionDescription
}

// InitiateCallOutput contains the created call
type InitiateCallOutput struct {
	CallID         uuid.UUID
	ConversationID uuid.UUID
	CallType       string
	Status         string
	StartedAt      time.Time
}

// InitiateCall persists the ringing record, relays the offer, and alerts
// the callee's devices.
func (s *Service) InitiateCall(ctx context.Context, input *InitiateCallInput) (*InitiateCallOutput, error) {
	conv, err := s.convRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(input.CallerID) {
		return nil, errors.ForbiddenError("not a member of this conversation")
	}

	callerName := "Incoming Call"
	if profile, err := s.convRepo.GetProfile(ctx, input.CallerID); err == nil {
		callerName = profile.DisplayName
	}

	record := &domain.CallRecord{
		CallID:         uuid.New(),
		ConversationID: input.ConversationID,
		CallerID:       input.CallerID,
		CallType:       input.CallType,
		Status:         constants.CallStatusRinging,
		StartedAt:      time.Now(),
	}
	if err := s.callRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	if input.Offer != nil {
		s.signals.Publish(ctx, &domain.SignalMessage{
			Type:           domain.SignalTypeOffer,
			CallerID:       input.CallerID,
			CallerName:     callerName,
			CallType:       input.CallType,
			ConversationID: input.ConversationID,
			Offer:          input.Offer,
		})
	}

	for _, participant := range conv.Participants() {
		if participant == input.CallerID {
			continue
		}
		s.alerter.SendIncomingCall(ctx, &push.CallAlert{
			CallID:         record.CallID,
			ConversationID: record.ConversationID,
			CallerID:       record.CallerID,
			CallerName:     callerName,
			CallType:       record.CallType,
		}, participant)
	}

	if s.metrics != nil {
		s.metrics.CallStarted()
		s.metrics.RecordCall(input.CallType, constants.CallStatusRinging)
	}

	return &InitiateCallOutput{
		CallID:         record.CallID,
		ConversationID: record.ConversationID,
		CallType:       record.CallType,
		Status:         record.Status,
		StartedAt:      record.StartedAt,
	}, nil
}

// EndCall settles the record and relays call-end. A call that never left
// ringing resolves to missed and the callee gets a missed-call alert.
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) error {
	record, err := s.authorize(ctx, callID, userID)
	if err != nil {
		return err
	}

	if record.Status == constants.CallStatusRinging {
		if err := s.callRepo.ClearRinging(ctx, record.ConversationID, constants.CallStatusMissed); err != nil {
			return err
		}
		s.alertMissed(ctx, record)
	} else {
		if err := s.callRepo.EndCall(ctx, callID); err != nil {
			return err
		}
	}

	s.signals.Publish(ctx, &domain.SignalMessage{
		Type:           domain.SignalTypeCallEnd,
		CallerID:       userID,
		ConversationID: record.ConversationID,
	})

	if s.metrics != nil {
		s.metrics.CallEnded(record.CallType, time.Since(record.StartedAt))
	}
	return nil
}

// RejectCall marks the record rejected and relays call-reject.
func (s *Service) RejectCall(ctx context.Context, callID, userID uuid.UUID) error {
	record, err := s.authorize(ctx, callID, userID)
	if err != nil {
		return err
	}
	if record.Status != constants.CallStatusRinging {
		return errors.InvalidInputError("call is not ringing")
	}

	if err := s.callRepo.UpdateStatus(ctx, callID, constants.CallStatusRejected); err != nil {
		return err
	}

	s.signals.Publish(ctx, &domain.SignalMessage{
		Type:           domain.SignalTypeCallReject,
		CallerID:       userID,
		ConversationID: record.ConversationID,
	})

	if s.metrics != nil {
		s.metrics.RecordCall(record.CallType, constants.CallStatusRejected)
	}
	return nil
}

// AnswerCall marks the record active once the callee picks up.
func (s *Service) AnswerCall(ctx context.Context, callID, userID uuid.UUID) error {
	record, err := s.authorize(ctx, callID, userID)
	if err != nil {
		return err
	}
	if record.Status != constants.CallStatusRinging {
		return errors.InvalidInputError("call is not ringing")
	}
	return s.callRepo.UpdateStatus(ctx, callID, constants.CallStatusActive)
}

// GetCall returns one call record the user participates in.
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.CallRecord, error) {
	return s.authorize(ctx, callID, userID)
}

// ListRecent returns the user's call history, newest first.
func (s *Service) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.callRepo.ListRecent(ctx, userID, limit)
}

// authorize loads the record and verifies the user is on the conversation.
func (s *Service) authorize(ctx context.Context, callID, userID uuid.UUID) (*domain.CallRecord, error) {
	record, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}

	conv, err := s.convRepo.GetByID(ctx, record.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, errors.ForbiddenError("not a member of this conversation")
	}

	return record, nil
}

func (s *Service) alertMissed(ctx context.Context, record *domain.CallRecord) {
	conv, err := s.convRepo.GetByID(ctx, record.ConversationID)
	if err != nil {
		return
	}

	callerName := "Unknown"
	if profile, err := s.convRepo.GetProfile(ctx, record.CallerID); err == nil {
		callerName = profile.DisplayName
	}

	for _, participant := range conv.Participants() {
		if participant == record.CallerID {
			continue
		}
		s.alerter.SendMissedCall(ctx, &push.CallAlert{
			CallID:         record.CallID,
			ConversationID: record.ConversationID,
			CallerID:       record.CallerID,
			CallerName:     callerName,
			CallType:       record.CallType,
		}, participant)
	}
}
