package domain

import (
	"encoding/json"
	"fmt"
)

// MediaKind is the kind of call requested by the initiator
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Valid reports whether k is a known media kind
func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// SignalType is the negotiation step carried by a Signal
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
	SignalHangup       SignalType = "hangup"
)

// Valid reports whether t is a known signal type
func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalICECandidate, SignalHangup:
		return true
	}
	return false
}

// Signal is a single call-negotiation message. Every signal carries the full
// call tuple so the receiver can check it against the call it believes is active.
type Signal struct {
	CallID     string          `json:"callId"`
	CallerID   string          `json:"callerId"`
	CalleeID   string          `json:"calleeId"`
	MediaKind  MediaKind       `json:"callType"`
	SignalType SignalType      `json:"signalType"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Validate checks that the tuple is complete
func (s *Signal) Validate() error {
	switch {
	case s.CallID == "":
		return fmt.Errorf("signal missing callId")
	case s.CallerID == "" || s.CalleeID == "":
		return fmt.Errorf("signal %s missing participants", s.CallID)
	case s.CallerID == s.CalleeID:
		return fmt.Errorf("signal %s has identical caller and callee", s.CallID)
	case IsBroadcastID(s.CallerID) || IsBroadcastID(s.CalleeID):
		return fmt.Errorf("signal %s addresses the broadcast topic", s.CallID)
	case !s.MediaKind.Valid():
		return fmt.Errorf("signal %s has unknown callType %q", s.CallID, s.MediaKind)
	case !s.SignalType.Valid():
		return fmt.Errorf("signal %s has unknown signalType %q", s.CallID, s.SignalType)
	}
	return nil
}

// Recipient returns the participant a signal sent by from is addressed to
func (s *Signal) Recipient(from string) string {
	if from == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

// SessionDescription is an SDP offer or answer
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a network-reachability hint in its browser-compatible JSON form
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// DescriptionPayload is the payload of offer and answer signals
type DescriptionPayload struct {
	SDP SessionDescription `json:"sdp"`
}

// CandidatePayload is the payload of ice-candidate signals
type CandidatePayload struct {
	Candidate ICECandidate `json:"candidate"`
}

// HangupPayload optionally explains a hangup
type HangupPayload struct {
	Reason string `json:"reason,omitempty"`
}

// Hangup reasons
const (
	HangupReasonEnded    = "ended"
	HangupReasonDeclined = "declined"
	HangupReasonBusy     = "busy"
	HangupReasonFailed   = "failed"
)

// EncodePayload marshals v into a signal payload
func EncodePayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal payload: %w", err)
	}
	return raw, nil
}

// DecodeDescription reads an offer/answer payload
func (s *Signal) DecodeDescription() (SessionDescription, error) {
	var p DescriptionPayload
	if err := json.Unmarshal(s.Payload, &p); err != nil {
		return SessionDescription{}, fmt.Errorf("failed to decode %s payload: %w", s.SignalType, err)
	}
	if p.SDP.SDP == "" {
		return SessionDescription{}, fmt.Errorf("%s payload has empty sdp", s.SignalType)
	}
	return p.SDP, nil
}

// DecodeCandidate reads an ice-candidate payload
func (s *Signal) DecodeCandidate() (ICECandidate, error) {
	var p CandidatePayload
	if err := json.Unmarshal(s.Payload, &p); err != nil {
		return ICECandidate{}, fmt.Errorf("failed to decode candidate payload: %w", err)
	}
	return p.Candidate, nil
}
