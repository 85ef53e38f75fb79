package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"secureconnect-sync/internal/database"
	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/constants"
)

const onlineSetKey = "presence:online"

// PresenceRepository stores the last advertised presence of each user
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

// Save stores p. Online records expire unless refreshed; offline ones are
// kept so GetStatus can report when the user left.
func (r *PresenceRepository) Save(ctx context.Context, p domain.Presence) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}

	ttl := constants.PresenceTTL
	if p.Status == domain.PresenceOffline {
		ttl = 0
	}
	if err := r.client.SafeSet(ctx, presenceKey(p.UserID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}

	if p.Status == domain.PresenceOffline {
		err = r.client.SafeSRem(ctx, onlineSetKey, p.UserID).Err()
	} else {
		err = r.client.SafeSAdd(ctx, onlineSetKey, p.UserID).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update online set: %w", err)
	}
	return nil
}

// Get returns the stored presence for userID, or found=false
func (r *PresenceRepository) Get(ctx context.Context, userID string) (*domain.Presence, bool, error) {
	raw, err := r.client.SafeGet(ctx, presenceKey(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get presence: %w", err)
	}

	var p domain.Presence
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, fmt.Errorf("failed to decode presence: %w", err)
	}
	return &p, true, nil
}

// OnlineUsers lists users currently advertised online. Members whose record
// expired without an offline update are pruned from the set.
func (r *PresenceRepository) OnlineUsers(ctx context.Context) ([]string, error) {
	ids, err := r.client.SafeSMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	online := make([]string, 0, len(ids))
	for _, id := range ids {
		p, found, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found || p.Status == domain.PresenceOffline {
			_ = r.client.SafeSRem(ctx, onlineSetKey, id).Err()
			continue
		}
		online = append(online, id)
	}
	return online, nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
