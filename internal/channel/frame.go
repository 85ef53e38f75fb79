package channel

import "secureconnect-sync/internal/domain"

// Frame operations exchanged with the relay gateway
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPublish     = "publish"
	OpEvent       = "event"
	OpAck         = "ack"
	OpError       = "error"
)

// Frame is one JSON message on the gateway WebSocket. Requests carry an ID
// that the gateway echoes in its ack or error.
type Frame struct {
	Op    string        `json:"op"`
	ID    uint64        `json:"id,omitempty"`
	Topic string        `json:"topic,omitempty"`
	Event *domain.Event `json:"event,omitempty"`
	Error string        `json:"error,omitempty"`
}
