package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryStatus_Advances(t *testing.T) {
	assert.True(t, StatusSent.Advances(StatusDelivered))
	assert.True(t, StatusSent.Advances(StatusRead))
	assert.True(t, StatusDelivered.Advances(StatusRead))

	assert.False(t, StatusRead.Advances(StatusDelivered))
	assert.False(t, StatusDelivered.Advances(StatusSent))
	assert.False(t, StatusRead.Advances(StatusRead))
	assert.False(t, StatusSent.Advances(DeliveryStatus("seen")))
}

func TestSignal_Validate(t *testing.T) {
	s := &Signal{CallID: "c1", CallerID: "alice", CalleeID: "bob", MediaKind: MediaVideo, SignalType: SignalOffer}
	assert.NoError(t, s.Validate())

	bad := *s
	bad.MediaKind = "hologram"
	assert.Error(t, bad.Validate())

	bad = *s
	bad.CalleeID = "alice"
	assert.Error(t, bad.Validate())

	bad = *s
	bad.CallID = ""
	assert.Error(t, bad.Validate())

	bad = *s
	bad.CalleeID = "all"
	assert.Error(t, bad.Validate())

	bad = *s
	bad.CallerID = "all"
	assert.Error(t, bad.Validate())

	assert.Equal(t, "bob", s.Recipient("alice"))
	assert.Equal(t, "alice", s.Recipient("bob"))
}

func TestSignal_WireShape(t *testing.T) {
	payload, err := EncodePayload(DescriptionPayload{SDP: SessionDescription{Type: "offer", SDP: "v=0"}})
	require.NoError(t, err)

	raw, err := json.Marshal(Signal{CallID: "c1", CallerID: "alice", CalleeID: "bob", MediaKind: MediaAudio, SignalType: SignalOffer, Payload: payload})
	require.NoError(t, err)

	assert.JSONEq(t, `{"callId":"c1","callerId":"alice","calleeId":"bob","callType":"audio","signalType":"offer","payload":{"sdp":{"type":"offer","sdp":"v=0"}}}`, string(raw))

	var decoded Signal
	require.NoError(t, json.Unmarshal(raw, &decoded))
	sd, err := decoded.DecodeDescription()
	require.NoError(t, err)
	assert.Equal(t, "v=0", sd.SDP)
}

func TestSignal_DecodeDescriptionRejectsEmpty(t *testing.T) {
	s := Signal{SignalType: SignalAnswer, Payload: json.RawMessage(`{"sdp":{"type":"answer"}}`)}

	_, err := s.DecodeDescription()

	assert.Error(t, err)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "user:alice", UserTopic("alice"))
	assert.Equal(t, "alice", TopicOwner("user:alice"))
	assert.Equal(t, "", TopicOwner(BroadcastTopic))
	assert.Equal(t, "", TopicOwner("room:1"))
	assert.True(t, IsBroadcastID("all"))
	assert.False(t, IsBroadcastID("alice"))
}

func TestMessage_PeerAndPairing(t *testing.T) {
	a := &Message{SenderID: "alice", ReceiverID: "bob"}
	b := &Message{SenderID: "alice", ReceiverID: "bob"}
	c := &Message{SenderID: "bob", ReceiverID: "alice"}

	assert.Equal(t, "bob", a.Peer("alice"))
	assert.Equal(t, "alice", a.Peer("bob"))
	assert.True(t, a.SamePairing(b))
	assert.False(t, a.SamePairing(c))
}
