package video

import (
	"context"

	"go.uber.org/zap"

	"secureconnect-sync/internal/channel"
	"secureconnect-sync/internal/domain"
	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/logger"
)

// Service forwards call signals between participants. It keeps no call
// state; both ends run their own negotiation state machine.
type Service struct {
	publisher channel.Publisher
}

// NewService creates a new video service
func NewService(publisher channel.Publisher) *Service {
	return &Service{publisher: publisher}
}

// SendSignal validates sig and forwards it to the other participant's topic.
// The authenticated user must be the caller or the callee.
func (s *Service) SendSignal(ctx context.Context, userID string, sig *domain.Signal) error {
	if err := sig.Validate(); err != nil {
		return apperrors.ValidationError(err.Error())
	}
	if userID != sig.CallerID && userID != sig.CalleeID {
		return apperrors.ForbiddenError("not a participant of this call")
	}

	ev, err := domain.NewEvent(domain.EventCallSignal, sig)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "failed to encode signal", err)
	}

	recipient := sig.Recipient(userID)
	if err := s.publisher.Publish(ctx, domain.UserTopic(recipient), ev); err != nil {
		return apperrors.Transport("failed to forward signal", err)
	}

	logger.Debug("Forwarded call signal",
		zap.String("call_id", sig.CallID),
		zap.String("signal_type", string(sig.SignalType)),
		zap.String("from", userID),
		zap.String("to", recipient))
	return nil
}
