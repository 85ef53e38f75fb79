// Package media provides the pion/webrtc backed implementation of the call
// engine's media and peer-connection abstractions.
package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"secureconnect-sync/internal/call"
	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/logger"
)

// Engine builds pion peer connections around locally published tracks
type Engine struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	devices    map[domain.MediaKind]bool
	log        *zap.Logger
}

// NewEngine registers the default codecs and interceptors. devices lists
// the media kinds this host can capture; Acquire fails for anything else.
func NewEngine(iceServers []string, devices []string) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	e := &Engine{
		api:     api,
		devices: make(map[domain.MediaKind]bool, len(devices)),
		log:     logger.Named("media"),
	}
	if len(iceServers) > 0 {
		e.iceServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	for _, d := range devices {
		e.devices[domain.MediaKind(d)] = true
	}
	return e, nil
}

// Acquire claims the capture devices a call of this kind needs. Video calls
// carry audio as well.
func (e *Engine) Acquire(ctx context.Context, kind domain.MediaKind) (call.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !e.devices[domain.MediaAudio] {
		return nil, fmt.Errorf("no audio capture device available")
	}
	if kind == domain.MediaVideo && !e.devices[domain.MediaVideo] {
		return nil, fmt.Errorf("no video capture device available")
	}

	streamID := "local-" + uuid.NewString()
	s := &Stream{kind: kind}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	s.tracks = append(s.tracks, audio)

	if kind == domain.MediaVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		s.tracks = append(s.tracks, video)
	}

	e.log.Debug("Acquired local media", zap.String("kind", string(kind)), zap.Int("tracks", len(s.tracks)))
	return s, nil
}

// NewPeer creates a peer connection publishing stream's tracks
func (e *Engine) NewPeer(stream call.LocalStream, events call.PeerEvents) (call.Peer, error) {
	local, ok := stream.(*Stream)
	if !ok {
		return nil, fmt.Errorf("unsupported stream type %T", stream)
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	for _, track := range local.tracks {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
	}

	p := &Peer{pc: pc, log: e.log}
	p.wire(events)
	return p, nil
}

// Stream is a set of local tracks. Samples are written by the capture
// pipeline through Tracks.
type Stream struct {
	kind   domain.MediaKind
	tracks []*webrtc.TrackLocalStaticSample

	stopOnce sync.Once
	stopped  bool
	mu       sync.Mutex
}

// Kind returns the call kind this stream was acquired for
func (s *Stream) Kind() domain.MediaKind {
	return s.kind
}

// Tracks returns the local tracks
func (s *Stream) Tracks() []*webrtc.TrackLocalStaticSample {
	return s.tracks
}

// Stop releases the stream. Safe to call repeatedly.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	})
}

// Stopped reports whether Stop was called
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Peer wraps a pion PeerConnection
type Peer struct {
	pc  *webrtc.PeerConnection
	log *zap.Logger
}

func (p *Peer) wire(events call.PeerEvents) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil || events.OnLocalCandidate == nil {
			return
		}
		init := c.ToJSON()
		events.OnLocalCandidate(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if events.OnRemoteTrack != nil {
			events.OnRemoteTrack(call.RemoteTrack{
				ID:       track.ID(),
				StreamID: track.StreamID(),
				Kind:     track.Kind().String(),
				Codec:    track.Codec().MimeType,
			})
		}
		// keep reading so the interceptors see RTCP traffic
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("Peer connection state", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed && events.OnFailed != nil {
			events.OnFailed(fmt.Errorf("peer connection %s", state))
		}
	})
}

// CreateOffer creates and applies the local offer
func (p *Peer) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(offer), nil
}

// CreateAnswer applies the remote offer, then creates and applies the local answer
func (p *Peer) CreateAnswer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	if err := p.SetRemoteDescription(ctx, offer); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(answer), nil
}

// SetRemoteDescription applies the peer's offer or answer
func (p *Peer) SetRemoteDescription(ctx context.Context, sd domain.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	desc, err := toPion(sd)
	if err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(desc)
}

// AddICECandidate applies a remote candidate
func (p *Peer) AddICECandidate(c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// Close closes the peer connection
func (p *Peer) Close() error {
	return p.pc.Close()
}

func fromPion(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func toPion(sd domain.SessionDescription) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(sd.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown sdp type %q", sd.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: sd.SDP}, nil
}
