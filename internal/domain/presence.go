package domain

import "time"

// PresenceStatus is a user's advertised availability
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
)

// Valid reports whether s is a known presence status
func (s PresenceStatus) Valid() bool {
	return s == PresenceOnline || s == PresenceOffline || s == PresenceAway
}

// Presence is a last-write-wins presence record
type Presence struct {
	UserID    string         `json:"userId"`
	Status    PresenceStatus `json:"status"`
	UpdatedAt time.Time      `json:"updatedAt,omitempty"`
}

// UpdatePresenceRequest is the REST body for advertising presence
type UpdatePresenceRequest struct {
	Status PresenceStatus `json:"status" binding:"required"`
}
