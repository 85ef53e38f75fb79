package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/internal/repository/memory"
	apperrors "secureconnect-sync/pkg/errors"
)

// Mocks
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, ev domain.Event) error {
	args := m.Called(ctx, topic, ev)
	return args.Error(0)
}

func eventOfType(typ domain.EventType) interface{} {
	return mock.MatchedBy(func(ev domain.Event) bool { return ev.Type == typ })
}

func newTestService(pub *MockPublisher) *Service {
	s := NewService(memory.NewMessageRepository(), pub)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestSendMessage(t *testing.T) {
	pub := new(MockPublisher)
	service := newTestService(pub)

	// Setup expectations
	pub.On("Publish", mock.Anything, "user:alice", eventOfType(domain.EventMessageSent)).Return(nil).Once()
	pub.On("Publish", mock.Anything, "user:bob", eventOfType(domain.EventMessageReceived)).Return(nil).Once()

	// Execute
	msg, err := service.SendMessage(context.Background(), "alice", &domain.SendMessageRequest{ReceiverID: "bob", Content: "hi"})

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.Equal(t, "alice", msg.SenderID)
	pub.AssertExpectations(t)

	history, err := service.GetConversation(context.Background(), "bob", "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestSendMessage_PublishFailureStillStores(t *testing.T) {
	pub := new(MockPublisher)
	service := newTestService(pub)

	// Setup expectations
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	// Execute
	msg, err := service.SendMessage(context.Background(), "alice", &domain.SendMessageRequest{ReceiverID: "bob", Content: "hi"})

	// Assert
	require.NoError(t, err)
	history, _ := service.GetConversation(context.Background(), "alice", "bob", 0)
	assert.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestSendMessage_Validation(t *testing.T) {
	service := newTestService(new(MockPublisher))

	_, err := service.SendMessage(context.Background(), "alice", &domain.SendMessageRequest{ReceiverID: "alice", Content: "hi"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))

	_, err = service.SendMessage(context.Background(), "alice", &domain.SendMessageRequest{ReceiverID: "bob", Content: " "})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeMissingField))
}

func TestSendMessage_RejectsBroadcastReceiver(t *testing.T) {
	pub := new(MockPublisher)
	service := newTestService(pub)

	// Execute
	_, err := service.SendMessage(context.Background(), "alice", &domain.SendMessageRequest{ReceiverID: "all", Content: "secret"})

	// Assert
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
	pub.AssertNotCalled(t, "Publish", mock.Anything, domain.BroadcastTopic, mock.Anything)
	history, err := service.GetConversation(context.Background(), "alice", "all", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestUpdateStatus(t *testing.T) {
	pub := new(MockPublisher)
	service := newTestService(pub)
	pub.On("Publish", mock.Anything, mock.Anything, eventOfType(domain.EventMessageSent)).Return(nil)
	pub.On("Publish", mock.Anything, mock.Anything, eventOfType(domain.EventMessageReceived)).Return(nil)
	msg, err := service.SendMessage(context.Background(), "alice", &domain.SendMessageRequest{ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)

	// Setup expectations
	var published domain.StatusUpdate
	pub.On("Publish", mock.Anything, "user:alice", eventOfType(domain.EventMessageStatusUpdated)).
		Run(func(args mock.Arguments) {
			ev := args.Get(2).(domain.Event)
			_ = json.Unmarshal(ev.Data, &published)
		}).Return(nil).Once()

	// Execute
	err = service.UpdateStatus(context.Background(), "bob", msg.ID, domain.StatusRead)
	require.NoError(t, err)
	err = service.UpdateStatus(context.Background(), "bob", msg.ID, domain.StatusDelivered)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, msg.ID, published.MessageID)
	assert.Equal(t, domain.StatusRead, published.Status)
	pub.AssertNumberOfCalls(t, "Publish", 3)
}

func TestUpdateStatus_OnlyReceiver(t *testing.T) {
	pub := new(MockPublisher)
	service := newTestService(pub)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	msg, err := service.SendMessage(context.Background(), "alice", &domain.SendMessageRequest{ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)

	err = service.UpdateStatus(context.Background(), "alice", msg.ID, domain.StatusRead)

	assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))
}

func TestUpdateStatus_UnknownMessage(t *testing.T) {
	service := newTestService(new(MockPublisher))

	err := service.UpdateStatus(context.Background(), "bob", "missing", domain.StatusRead)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))

	err = service.UpdateStatus(context.Background(), "bob", "missing", "seen")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidation))
}
