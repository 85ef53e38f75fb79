// Package presence keeps the last known availability of other participants.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/metrics"
)

// Store is a last-write-wins presence table. Records carrying an UpdatedAt
// older than the stored one are ignored; records without one always win.
type Store struct {
	mu       sync.RWMutex
	records  map[string]domain.Presence
	now      func() time.Time
	onChange func(domain.Presence)
	log      *zap.Logger
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		records: make(map[string]domain.Presence),
		now:     time.Now,
		log:     logger.Named("presence"),
	}
}

// OnChange registers the handler called after a record is replaced
func (s *Store) OnChange(fn func(domain.Presence)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// HandlePresence applies an update received on the channel
func (s *Store) HandlePresence(_ context.Context, p domain.Presence) {
	if p.UserID == "" || !p.Status.Valid() {
		s.log.Warn("Dropping invalid presence update", zap.String("user_id", p.UserID), zap.String("status", string(p.Status)))
		return
	}

	s.mu.Lock()
	if cur, ok := s.records[p.UserID]; ok && !p.UpdatedAt.IsZero() && p.UpdatedAt.Before(cur.UpdatedAt) {
		s.mu.Unlock()
		return
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now().UTC()
	}
	s.records[p.UserID] = p
	fn := s.onChange
	s.mu.Unlock()

	metrics.PresenceUpdatesTotal.Inc()
	if fn != nil {
		fn(p)
	}
}

// Get returns the last known record for userID
func (s *Store) Get(userID string) (domain.Presence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[userID]
	return p, ok
}

// Online lists users whose last known status is online
func (s *Store) Online() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, p := range s.records {
		if p.Status == domain.PresenceOnline {
			out = append(out, id)
		}
	}
	return out
}
