package call

import "secureconnect-sync/internal/domain"

// Phase is a step of the call negotiation state machine
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseOutgoingRinging Phase = "outgoing-ringing"
	PhaseIncomingRinging Phase = "incoming-ringing"
	PhaseAnswering       Phase = "answering"
	PhaseConnected       Phase = "connected"
	PhaseEnded           Phase = "ended"
)

// Role tells which side of the negotiation the local participant plays
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// State is the coarse call state rendered by call chrome
type State string

const (
	StateIdle       State = "idle"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
)

// Snapshot is a read-only view of the active call
type Snapshot struct {
	CallID    string
	CallerID  string
	CalleeID  string
	PeerID    string
	MediaKind domain.MediaKind
	Role      Role
	Phase     Phase
	State     State
}

var idleSnapshot = Snapshot{Phase: PhaseIdle, State: StateIdle}

func stateOf(phase Phase, offered bool) State {
	switch phase {
	case PhaseIncomingRinging:
		return StateRinging
	case PhaseOutgoingRinging:
		if offered {
			return StateRinging
		}
		return StateConnecting
	case PhaseAnswering:
		return StateConnecting
	case PhaseConnected:
		return StateConnected
	default:
		return StateIdle
	}
}
