package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType tags the payload of an Event
type EventType string

const (
	EventMessageReceived      EventType = "message_received"
	EventMessageSent          EventType = "message_sent"
	EventMessageStatusUpdated EventType = "message_status_updated"
	EventCallSignal           EventType = "call_signal"
	EventUserStatusChanged    EventType = "user_status_changed"
)

// Event is the tagged payload carried by every channel publish
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data under the given tag
func NewEvent(t EventType, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s event: %w", t, err)
	}
	return Event{Type: t, Data: raw}, nil
}

// Topics
const (
	userTopicPrefix = "user:"

	// BroadcastTopic carries presence changes for every user
	BroadcastTopic = "user:all"
)

// UserTopic returns the personal topic of userID
func UserTopic(userID string) string {
	return userTopicPrefix + userID
}

// IsBroadcastID reports whether userID's personal topic would be the broadcast topic
func IsBroadcastID(userID string) bool {
	return UserTopic(userID) == BroadcastTopic
}

// TopicOwner returns the user a personal topic belongs to, or "" for other topics
func TopicOwner(topic string) string {
	if topic == BroadcastTopic || !strings.HasPrefix(topic, userTopicPrefix) {
		return ""
	}
	return strings.TrimPrefix(topic, userTopicPrefix)
}
