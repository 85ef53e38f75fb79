package domain

import "time"

// DeliveryStatus is the delivery progress of a message on the sender's view
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Rank orders statuses; unknown statuses rank 0.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Valid reports whether s is a known status
func (s DeliveryStatus) Valid() bool {
	return s.Rank() > 0
}

// Advances reports whether moving from s to next is a forward transition
func (s DeliveryStatus) Advances(next DeliveryStatus) bool {
	return next.Valid() && next.Rank() > s.Rank()
}

// Origin tells whether a log entry is provisional or authoritative
type Origin string

const (
	OriginLocalOptimistic Origin = "local-optimistic"
	OriginServerConfirmed Origin = "server-confirmed"
)

// Message is a chat message as carried on the wire
type Message struct {
	ID         string         `json:"id"`
	SenderID   string         `json:"senderId"`
	ReceiverID string         `json:"receiverId"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	Status     DeliveryStatus `json:"status"`
}

// Peer returns the other participant of the conversation from self's point of view
func (m *Message) Peer(self string) string {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// SamePairing reports whether both messages travel between the same two participants
// in the same direction.
func (m *Message) SamePairing(other *Message) bool {
	return m.SenderID == other.SenderID && m.ReceiverID == other.ReceiverID
}

// StatusUpdate moves a message to a new delivery status
type StatusUpdate struct {
	MessageID string         `json:"messageId"`
	Status    DeliveryStatus `json:"status"`
}

// SendMessageRequest is the REST body for sending a message
type SendMessageRequest struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	Content    string `json:"content" binding:"required"`
}
