package call

import (
	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/constants"
)

// session is the state of one negotiation attempt. All fields are guarded by
// the owning Engine's mutex; a session is replaced, never reused, per call.
type session struct {
	id       string
	callerID string
	calleeID string
	kind     domain.MediaKind
	role     Role
	phase    Phase

	remoteOffer *domain.SessionDescription

	offered   bool // local offer applied, answers may be accepted
	applying  bool // a remote answer is being applied
	remoteSet bool // remote description applied, candidates go straight to the peer
	announced bool // our offer/answer was published, local candidates may follow

	inbound  []domain.ICECandidate // remote candidates awaiting a remote description
	outbound []domain.ICECandidate // local candidates awaiting our offer/answer

	stream LocalStream
	peer   Peer
}

func newSession(id, callerID, calleeID string, kind domain.MediaKind, role Role) *session {
	return &session{
		id:       id,
		callerID: callerID,
		calleeID: calleeID,
		kind:     kind,
		role:     role,
		phase:    PhaseIdle,
	}
}

func (s *session) peerID() string {
	if s.role == RoleInitiator {
		return s.calleeID
	}
	return s.callerID
}

// matches reports whether sig carries this session's tuple
func (s *session) matches(sig *domain.Signal) bool {
	return sig.CallID == s.id &&
		sig.CallerID == s.callerID &&
		sig.CalleeID == s.calleeID &&
		sig.MediaKind == s.kind
}

func (s *session) signal(t domain.SignalType, payload []byte) domain.Signal {
	return domain.Signal{
		CallID:     s.id,
		CallerID:   s.callerID,
		CalleeID:   s.calleeID,
		MediaKind:  s.kind,
		SignalType: t,
		Payload:    payload,
	}
}

func (s *session) bufferInbound(c domain.ICECandidate) bool {
	if len(s.inbound) >= constants.MaxBufferedCandidates {
		return false
	}
	s.inbound = append(s.inbound, c)
	return true
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		CallID:    s.id,
		CallerID:  s.callerID,
		CalleeID:  s.calleeID,
		PeerID:    s.peerID(),
		MediaKind: s.kind,
		Role:      s.role,
		Phase:     s.phase,
		State:     stateOf(s.phase, s.offered),
	}
}

// detach hands back the held resources so they can be released outside the lock
func (s *session) detach() func() {
	stream, peer := s.stream, s.peer
	s.stream, s.peer = nil, nil
	return func() {
		if peer != nil {
			_ = peer.Close()
		}
		if stream != nil {
			stream.Stop()
		}
	}
}
