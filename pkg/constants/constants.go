// Package constants defines application-wide constants for timeouts, limits, and wire names.
package constants

import "time"

// Time-related constants
const (
	// DefaultRequestTimeout bounds REST collaborator calls
	DefaultRequestTimeout = 10 * time.Second

	// PublishTimeout bounds a single fire-and-forget publish
	PublishTimeout = 5 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 30 * time.Second

	// WebSocketPongWait is how long a peer may stay silent before the socket is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait bounds a single frame write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Message sync constants
const (
	// MaxMessageLength caps message content, in characters
	MaxMessageLength = 4096

	// DedupWindow is the timestamp proximity under which equal-content messages collapse
	DedupWindow = 1 * time.Second

	// NearBottomThreshold is the scroll distance still treated as "at the bottom"
	NearBottomThreshold = 100

	// OptimisticIDPrefix marks client-generated temporary message ids
	OptimisticIDPrefix = "tmp-"
)

// Call negotiation constants
const (
	// EarlyCandidateTTL is how long ICE candidates for an unseen call are kept
	EarlyCandidateTTL = 30 * time.Second

	// MaxEarlyCandidateCalls caps the number of unseen calls with buffered candidates
	MaxEarlyCandidateCalls = 16

	// MaxBufferedCandidates caps buffered candidates per call
	MaxBufferedCandidates = 64
)

// DefaultICEServers are public STUN servers used when ICE_SERVERS is unset
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Channel constants
const (
	ChannelDriverRedis     = "redis"
	ChannelDriverWebSocket = "websocket"
	ChannelDriverMemory    = "memory"

	// DefaultSubscriptionBuffer is the per-subscription event queue depth
	DefaultSubscriptionBuffer = 64
	// SubscriptionBacklogFactor scales the buffer into the overflow backlog
	// held for a slow consumer before events are dropped
	SubscriptionBacklogFactor = 16

	SignalRouteChannel = "channel"
	SignalRouteREST    = "rest"
)

// PresenceTTL is how long the relay keeps an online marker without refresh
const PresenceTTL = 5 * time.Minute

// Gateway limits
const (
	// WebSocketMaxConnections caps concurrent gateway connections
	WebSocketMaxConnections = 1000

	// WebSocketSendBuffer is the per-connection outbound frame queue
	WebSocketSendBuffer = 256

	// WebSocketMaxFrameSize bounds an inbound frame; SDP blobs fit comfortably
	WebSocketMaxFrameSize = 64 * 1024
)
