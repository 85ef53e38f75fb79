package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"secureconnect-sync/internal/channel"
	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/constants"
	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/sanitize"
)

// MessageRepository stores relayed messages
type MessageRepository interface {
	Save(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetConversation(ctx context.Context, userA, userB string, limit int) ([]domain.Message, error)
	UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus) (*domain.Message, bool, error)
}

// Service handles chat business logic
type Service struct {
	messageRepo MessageRepository
	publisher   channel.Publisher
	now         func() time.Time
}

// NewService creates a new chat service
func NewService(messageRepo MessageRepository, publisher channel.Publisher) *Service {
	return &Service{
		messageRepo: messageRepo,
		publisher:   publisher,
		now:         time.Now,
	}
}

// SendMessage stores a message and publishes it to both participants:
// message_sent to the sender, message_received to the receiver.
func (s *Service) SendMessage(ctx context.Context, senderID string, req *domain.SendMessageRequest) (*domain.Message, error) {
	if req.ReceiverID == "" {
		return nil, apperrors.MissingFieldError("receiverId")
	}
	if req.ReceiverID == senderID {
		return nil, apperrors.ValidationError("cannot send a message to yourself")
	}
	if !sanitize.ValidUserID(req.ReceiverID) {
		return nil, apperrors.ValidationError("invalid receiverId")
	}
	content := sanitize.MessageContent(req.Content)
	if content == "" {
		return nil, apperrors.MissingFieldError("content")
	}
	if !sanitize.ValidateStringLength(content, 1, constants.MaxMessageLength) {
		return nil, apperrors.ValidationError(fmt.Sprintf("content exceeds %d characters", constants.MaxMessageLength))
	}

	msg := &domain.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Content:    content,
		Timestamp:  s.now().UTC(),
		Status:     domain.StatusSent,
	}

	if err := s.messageRepo.Save(ctx, msg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to save message", err)
	}

	// Publish failures don't fail the request; clients reconcile on history load
	s.publish(ctx, domain.UserTopic(senderID), domain.EventMessageSent, msg)
	s.publish(ctx, domain.UserTopic(req.ReceiverID), domain.EventMessageReceived, msg)

	return msg, nil
}

// GetConversation returns the messages between userID and peerID, oldest first
func (s *Service) GetConversation(ctx context.Context, userID, peerID string, limit int) ([]domain.Message, error) {
	if peerID == "" {
		return nil, apperrors.MissingFieldError("peer_id")
	}
	msgs, err := s.messageRepo.GetConversation(ctx, userID, peerID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to get messages", err)
	}
	return msgs, nil
}

// UpdateStatus records a delivery receipt from the message's receiver and
// notifies the sender. Backward transitions are accepted but not published.
func (s *Service) UpdateStatus(ctx context.Context, userID, messageID string, status domain.DeliveryStatus) error {
	if !status.Valid() {
		return apperrors.ValidationError("status must be one of sent, delivered, read")
	}

	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ReceiverID != userID {
		return apperrors.ForbiddenError("only the receiver can update message status")
	}

	updated, applied, err := s.messageRepo.UpdateStatus(ctx, messageID, status)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.publish(ctx, domain.UserTopic(updated.SenderID), domain.EventMessageStatusUpdated, domain.StatusUpdate{
		MessageID: updated.ID,
		Status:    updated.Status,
	})
	return nil
}

func (s *Service) publish(ctx context.Context, topic string, typ domain.EventType, data any) {
	ev, err := domain.NewEvent(typ, data)
	if err != nil {
		logger.Error("Failed to encode event", zap.String("event_type", string(typ)), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, topic, ev); err != nil {
		logger.Warn("Failed to publish event",
			zap.String("topic", topic),
			zap.String("event_type", string(typ)),
			zap.Error(err))
	}
}
