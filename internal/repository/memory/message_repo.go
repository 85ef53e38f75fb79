// Package memory holds the relay's in-process message store.
package memory

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"secureconnect-sync/internal/domain"
	apperrors "secureconnect-sync/pkg/errors"
)

// MessageRepository keeps messages in memory, indexed by id and by pairing
type MessageRepository struct {
	mu            sync.RWMutex
	byID          map[string]*domain.Message
	conversations map[string][]string // conversation key -> message ids
}

// NewMessageRepository creates an empty repository
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		byID:          make(map[string]*domain.Message),
		conversations: make(map[string][]string),
	}
}

func conversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Save stores msg
func (r *MessageRepository) Save(_ context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[msg.ID]; exists {
		return apperrors.NewWithStatus(apperrors.ErrCodeValidation, "duplicate message id", http.StatusConflict)
	}
	stored := *msg
	r.byID[msg.ID] = &stored
	key := conversationKey(msg.SenderID, msg.ReceiverID)
	r.conversations[key] = append(r.conversations[key], msg.ID)
	return nil
}

// GetByID returns a copy of the message
func (r *MessageRepository) GetByID(_ context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NotFoundError("message")
	}
	out := *msg
	return &out, nil
}

// GetConversation returns the messages between two users, oldest first
func (r *MessageRepository) GetConversation(_ context.Context, userA, userB string, limit int) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.conversations[conversationKey(userA, userB)]
	out := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// UpdateStatus advances the message's status and returns the stored message.
// applied is false when the update would move the status backward.
func (r *MessageRepository) UpdateStatus(_ context.Context, id string, status domain.DeliveryStatus) (msg *domain.Message, applied bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return nil, false, apperrors.NotFoundError("message")
	}
	if stored.Status.Advances(status) {
		stored.Status = status
		applied = true
	}
	out := *stored
	return &out, applied, nil
}
