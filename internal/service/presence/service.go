package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"secureconnect-sync/internal/channel"
	"secureconnect-sync/internal/domain"
	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/logger"
)

// Repository stores presence records
type Repository interface {
	Save(ctx context.Context, p domain.Presence) error
	Get(ctx context.Context, userID string) (*domain.Presence, bool, error)
	OnlineUsers(ctx context.Context) ([]string, error)
}

// Service records presence and broadcasts changes on user:all
type Service struct {
	repo      Repository
	publisher channel.Publisher
	now       func() time.Time
}

// NewService creates a new presence service
func NewService(repo Repository, publisher channel.Publisher) *Service {
	return &Service{repo: repo, publisher: publisher, now: time.Now}
}

// UpdateStatus stores and broadcasts userID's presence. A storage failure
// does not stop the broadcast; online clients still learn the change.
func (s *Service) UpdateStatus(ctx context.Context, userID string, status domain.PresenceStatus) (*domain.Presence, error) {
	if !status.Valid() {
		return nil, apperrors.ValidationError("status must be one of online, offline, away")
	}

	p := domain.Presence{UserID: userID, Status: status, UpdatedAt: s.now().UTC()}
	if err := s.repo.Save(ctx, p); err != nil {
		logger.FromContext(ctx).Warn("Failed to store presence", zap.String("user_id", userID), zap.Error(err))
	}

	ev, err := domain.NewEvent(domain.EventUserStatusChanged, p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to encode presence", err)
	}
	if err := s.publisher.Publish(ctx, domain.BroadcastTopic, ev); err != nil {
		return nil, apperrors.Transport("failed to broadcast presence", err)
	}
	return &p, nil
}

// GetStatus returns userID's last presence; unknown users are offline
func (s *Service) GetStatus(ctx context.Context, userID string) (*domain.Presence, error) {
	p, found, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("presence unavailable", err)
	}
	if !found {
		return &domain.Presence{UserID: userID, Status: domain.PresenceOffline}, nil
	}
	return p, nil
}

// OnlineUsers lists users whose last advertised status was not offline
func (s *Service) OnlineUsers(ctx context.Context) ([]string, error) {
	ids, err := s.repo.OnlineUsers(ctx)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("presence unavailable", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
