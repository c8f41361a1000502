package call

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"telecare-backend/internal/domain"
	"telecare-backend/pkg/constants"
	"telecare-backend/pkg/errors"
	"telecare-backend/pkg/push"
)

// Mocks
type MockCallStore struct {
	mock.Mock
}

func (m *MockCallStore) Create(ctx context.Context, call *domain.CallRecord) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallStore) UpdateStatus(ctx context.Context, callID uuid.UUID, status string) error {
	args := m.Called(ctx, callID, status)
	return args.Error(0)
}

func (m *MockCallStore) EndCall(ctx context.Context, callID uuid.UUID) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

func (m *MockCallStore) ClearRinging(ctx context.Context, conversationID uuid.UUID, status string) error {
	args := m.Called(ctx, conversationID, status)
	return args.Error(0)
}

func (m *MockCallStore) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallRecord), args.Error(1)
}

func (m *MockCallStore) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.CallRecord, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallRecord), args.Error(1)
}

type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationStore) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, msg *domain.SignalMessage) {
	m.Called(ctx, msg)
}

type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) SendIncomingCall(ctx context.Context, alert *push.CallAlert, calleeID uuid.UUID) {
	m.Called(ctx, alert, calleeID)
}

func (m *MockAlerter) SendMissedCall(ctx context.Context, alert *push.CallAlert, calleeID uuid.UUID) {
	m.Called(ctx, alert, calleeID)
}

type fixture struct {
	callRepo *MockCallStore
	convRepo *MockConversationStore
	signals  *MockPublisher
	alerter  *MockAlerter
	service  *Service

	patientID uuid.UUID
	doctorID  uuid.UUID
	convID    uuid.UUID
	conv      *domain.Conversation
}

func newFixture() *fixture {
	f := &fixture{
		callRepo:  &MockCallStore{},
		convRepo:  &MockConversationStore{},
		signals:   &MockPublisher{},
		alerter:   &MockAlerter{},
		patientID: uuid.New(),
		doctorID:  uuid.New(),
		convID:    uuid.New(),
	}
	f.conv = &domain.Conversation{
		ConversationID: f.convID,
		PatientID:      f.patientID,
		DoctorID:       uuid.New(),
		DoctorUserID:   f.doctorID,
	}
	f.service = NewService(f.callRepo, f.convRepo, f.signals, f.alerter, nil)
	return f
}

func TestInitiateCallPersistsPublishesAndAlerts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}

	f.convRepo.On("GetByID", ctx, f.convID).Return(f.conv, nil)
	f.convRepo.On("GetProfile", ctx, f.patientID).
		Return(&domain.Profile{UserID: f.patientID, DisplayName: "Minh Anh", Role: "patient"}, nil)
	f.callRepo.On("Create", ctx, mock.AnythingOfType("*domain.CallRecord")).Return(nil)
	f.signals.On("Publish", ctx, mock.MatchedBy(func(m *domain.SignalMessage) bool {
		return m.Type == domain.SignalTypeOffer && m.CallerName == "Minh Anh"
	})).Return()
	f.alerter.On("SendIncomingCall", ctx, mock.AnythingOfType("*push.CallAlert"), f.doctorID).Return()

	out, err := f.service.InitiateCall(ctx, &InitiateCallInput{
		ConversationID: f.convID,
		CallerID:       f.patientID,
		CallType:       constants.CallTypeVideo,
		Offer:          offer,
	})

	require.NoError(t, err)
	assert.Equal(t, constants.CallStatusRinging, out.Status)
	assert.NotEqual(t, uuid.Nil, out.CallID)
	f.callRepo.AssertExpectations(t)
	f.signals.AssertExpectations(t)
	f.alerter.AssertExpectations(t)
}

func TestInitiateCallForbiddenForOutsider(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	outsider := uuid.New()

	f.convRepo.On("GetByID", ctx, f.convID).Return(f.conv, nil)

	_, err := f.service.InitiateCall(ctx, &InitiateCallInput{
		ConversationID: f.convID,
		CallerID:       outsider,
		CallType:       constants.CallTypeAudio,
	})

	appErr := errors.GetAppError(err)
	assert.Equal(t, errors.ErrCodeForbidden, appErr.Code)
	f.callRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestEndRingingCallResolvesMissedAndAlerts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	callID := uuid.New()
	record := &domain.CallRecord{
		CallID:         callID,
		ConversationID: f.convID,
		CallerID:       f.patientID,
		CallType:       constants.CallTypeAudio,
		Status:         constants.CallStatusRinging,
		StartedAt:      time.Now(),
	}

	f.callRepo.On("GetByID", ctx, callID).Return(record, nil)
	f.convRepo.On("GetByID", ctx, f.convID).Return(f.conv, nil)
	f.convRepo.On("GetProfile", ctx, f.patientID).
		Return(&domain.Profile{DisplayName: "Minh Anh"}, nil)
	f.callRepo.On("ClearRinging", ctx, f.convID, constants.CallStatusMissed).Return(nil)
	f.alerter.On("SendMissedCall", ctx, mock.AnythingOfType("*push.CallAlert"), f.doctorID).Return()
	f.signals.On("Publish", ctx, mock.MatchedBy(func(m *domain.SignalMessage) bool {
		return m.Type == domain.SignalTypeCallEnd
	})).Return()

	err := f.service.EndCall(ctx, callID, f.patientID)

	require.NoError(t, err)
	f.callRepo.AssertExpectations(t)
	f.alerter.AssertExpectations(t)
}

func TestEndActiveCallUsesEndCall(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	callID := uuid.New()
	record := &domain.CallRecord{
		CallID:         callID,
		ConversationID: f.convID,
		CallerID:       f.patientID,
		CallType:       constants.CallTypeVideo,
		Status:         constants.CallStatusActive,
		StartedAt:      time.Now(),
	}

	f.callRepo.On("GetByID", ctx, callID).Return(record, nil)
	f.convRepo.On("GetByID", ctx, f.convID).Return(f.conv, nil)
	f.callRepo.On("EndCall", ctx, callID).Return(nil)
	f.signals.On("Publish", ctx, mock.Anything).Return()

	err := f.service.EndCall(ctx, callID, f.doctorID)

	require.NoError(t, err)
	f.callRepo.AssertExpectations(t)
	f.alerter.AssertNotCalled(t, "SendMissedCall", mock.Anything, mock.Anything, mock.Anything)
}

func TestRejectCallRequiresRinging(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	callID := uuid.New()
	record := &domain.CallRecord{
		CallID:         callID,
		ConversationID: f.convID,
		CallerID:       f.patientID,
		Status:         constants.CallStatusEnded,
	}

	f.callRepo.On("GetByID", ctx, callID).Return(record, nil)
	f.convRepo.On("GetByID", ctx, f.convID).Return(f.conv, nil)

	err := f.service.RejectCall(ctx, callID, f.doctorID)

	appErr := errors.GetAppError(err)
	assert.Equal(t, errors.ErrCodeInvalidInput, appErr.Code)
	f.callRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRejectRingingCallPublishesReject(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	callID := uuid.New()
	record := &domain.CallRecord{
		CallID:         callID,
		ConversationID: f.convID,
		CallerID:       f.patientID,
		CallType:       constants.CallTypeAudio,
		Status:         constants.CallStatusRinging,
	}

	f.callRepo.On("GetByID", ctx, callID).Return(record, nil)
	f.convRepo.On("GetByID", ctx, f.convID).Return(f.conv, nil)
	f.callRepo.On("UpdateStatus", ctx, callID, constants.CallStatusRejected).Return(nil)
	f.signals.On("Publish", ctx, mock.MatchedBy(func(m *domain.SignalMessage) bool {
		return m.Type == domain.SignalTypeCallReject && m.CallerID == f.doctorID
	})).Return()

	err := f.service.RejectCall(ctx, callID, f.doctorID)

	require.NoError(t, err)
	f.signals.AssertExpectations(t)
}

func TestGetCallForbiddenForOutsider(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	callID := uuid.New()
	record := &domain.CallRecord{CallID: callID, ConversationID: f.convID}

	f.callRepo.On("GetByID", ctx, callID).Return(record, nil)
	f.convRepo.On("GetByID", ctx, f.convID).Return(f.conv, nil)

	_, err := f.service.GetCall(ctx, callID, uuid.New())

	appErr := errors.GetAppError(err)
	assert.Equal(t, errors.ErrCodeForbidden, appErr.Code)
}

func TestListRecentClampsLimit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.callRepo.On("ListRecent", ctx, f.patientID, 20).Return([]*domain.CallRecord{}, nil)

	_, err := f.service.ListRecent(ctx, f.patientID, -5)

	require.NoError(t, err)
	f.callRepo.AssertExpectations(t)
}
