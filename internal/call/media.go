package call

import (
	"context"

	"secureconnect-sync/internal/domain"
)

// LocalStream is captured local media. Stop releases the capture devices and
// must be safe to call more than once.
type LocalStream interface {
	Kind() domain.MediaKind
	Stop()
}

// RemoteTrack describes a track received from the peer
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
	Codec    string
}

// PeerEvents are callbacks a Peer raises from its own goroutines
type PeerEvents struct {
	OnLocalCandidate func(domain.ICECandidate)
	OnRemoteTrack    func(RemoteTrack)
	OnFailed         func(error)
}

// Peer is one side of a media session
type Peer interface {
	// CreateOffer creates an offer and applies it as the local description
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	// CreateAnswer applies offer as the remote description, then creates and
	// applies the local answer
	CreateAnswer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error)
	SetRemoteDescription(ctx context.Context, sd domain.SessionDescription) error
	AddICECandidate(c domain.ICECandidate) error
	Close() error
}

// Media acquires capture devices and builds peers around them
type Media interface {
	Acquire(ctx context.Context, kind domain.MediaKind) (LocalStream, error)
	NewPeer(stream LocalStream, events PeerEvents) (Peer, error)
}
