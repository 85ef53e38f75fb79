package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secureconnect-sync/internal/call"
	"secureconnect-sync/internal/channel"
	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/constants"
)

// fakeRelay plays the REST collaborator for one user, publishing the same
// events the relay service would
type fakeRelay struct {
	self string
	pub  channel.Publisher

	mu       sync.Mutex
	seq      int
	statuses []domain.PresenceStatus
	signals  int
}

func (r *fakeRelay) SendMessage(ctx context.Context, receiverID, content string) (*domain.Message, error) {
	r.mu.Lock()
	r.seq++
	id := fmt.Sprintf("%s-%d", r.self, r.seq)
	r.mu.Unlock()

	msg := domain.Message{
		ID: id, SenderID: r.self, ReceiverID: receiverID, Content: content,
		Timestamp: time.Now().UTC(), Status: domain.StatusSent,
	}
	sent, _ := domain.NewEvent(domain.EventMessageSent, msg)
	received, _ := domain.NewEvent(domain.EventMessageReceived, msg)
	if err := r.pub.Publish(ctx, domain.UserTopic(r.self), sent); err != nil {
		return nil, err
	}
	if err := r.pub.Publish(ctx, domain.UserTopic(receiverID), received); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *fakeRelay) UpdateMessageStatus(ctx context.Context, messageID string, status domain.DeliveryStatus) error {
	// message ids are "<sender>-<n>"
	var sender string
	for i := len(messageID) - 1; i >= 0; i-- {
		if messageID[i] == '-' {
			sender = messageID[:i]
			break
		}
	}
	ev, _ := domain.NewEvent(domain.EventMessageStatusUpdated, domain.StatusUpdate{MessageID: messageID, Status: status})
	return r.pub.Publish(ctx, domain.UserTopic(sender), ev)
}

func (r *fakeRelay) GetMessages(ctx context.Context, peerID string) ([]domain.Message, error) {
	return nil, nil
}

func (r *fakeRelay) SendSignal(ctx context.Context, sig domain.Signal) error {
	r.mu.Lock()
	r.signals++
	r.mu.Unlock()
	ev, _ := domain.NewEvent(domain.EventCallSignal, sig)
	return r.pub.Publish(ctx, domain.UserTopic(sig.Recipient(r.self)), ev)
}

func (r *fakeRelay) UpdateStatus(ctx context.Context, status domain.PresenceStatus) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
	ev, _ := domain.NewEvent(domain.EventUserStatusChanged, domain.Presence{UserID: r.self, Status: status, UpdatedAt: time.Now().UTC()})
	return r.pub.Publish(ctx, domain.BroadcastTopic, ev)
}

func (r *fakeRelay) presenceHistory() []domain.PresenceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PresenceStatus(nil), r.statuses...)
}

type fakeStream struct{ kind domain.MediaKind }

func (s *fakeStream) Kind() domain.MediaKind { return s.kind }
func (s *fakeStream) Stop()                  {}

type fakePeer struct{}

func (fakePeer) CreateOffer(context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "offer", SDP: "v=0 offer"}, nil
}

func (fakePeer) CreateAnswer(_ context.Context, _ domain.SessionDescription) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (fakePeer) SetRemoteDescription(context.Context, domain.SessionDescription) error {
	return nil
}

func (fakePeer) AddICECandidate(domain.ICECandidate) error {
	return nil
}

func (fakePeer) Close() error {
	return nil
}

type fakeMedia struct{}

func (fakeMedia) Acquire(_ context.Context, kind domain.MediaKind) (call.LocalStream, error) {
	return &fakeStream{kind: kind}, nil
}

func (fakeMedia) NewPeer(call.LocalStream, call.PeerEvents) (call.Peer, error) {
	return fakePeer{}, nil
}

func startClient(t *testing.T, bus *channel.MemoryBus, user, route string) (*Client, *fakeRelay) {
	t.Helper()
	ch := bus.Client()
	relayCh := bus.Client()
	require.NoError(t, relayCh.Connect(context.Background(), channel.Credentials{UserID: user}))
	relay := &fakeRelay{self: user, pub: relayCh}

	c := New(Config{UserID: user, SignalRoute: route}, ch, relay, fakeMedia{})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, relay
}

func TestClient_CallBetweenTwoParticipants(t *testing.T) {
	bus := channel.NewMemoryBus()
	alice, _ := startClient(t, bus, "alice", constants.SignalRouteChannel)
	bob, _ := startClient(t, bus, "bob", constants.SignalRouteChannel)

	bob.Calls.OnIncoming(func(in *call.IncomingCall) {
		go func() { _ = in.Accept(context.Background()) }()
	})

	// Execute
	snap, err := alice.Calls.StartCall(context.Background(), "bob", domain.MediaVideo)
	require.NoError(t, err)

	// Assert
	require.Eventually(t, func() bool {
		return alice.Calls.Phase() == call.PhaseConnected && bob.Calls.Phase() == call.PhaseConnected
	}, 2*time.Second, 10*time.Millisecond)

	bobSnap, ok := bob.Calls.Current()
	require.True(t, ok)
	assert.Equal(t, snap.CallID, bobSnap.CallID)
	assert.Equal(t, "alice", bobSnap.PeerID)

	// Execute: alice hangs up
	require.NoError(t, alice.Calls.EndCall(context.Background()))

	// Assert
	require.Eventually(t, func() bool {
		return bob.Calls.Phase() == call.PhaseIdle
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, call.PhaseIdle, alice.Calls.Phase())
}

func TestClient_SignalsOverREST(t *testing.T) {
	bus := channel.NewMemoryBus()
	alice, relay := startClient(t, bus, "alice", constants.SignalRouteREST)
	bob, _ := startClient(t, bus, "bob", constants.SignalRouteChannel)

	var rang sync.WaitGroup
	rang.Add(1)
	bob.Calls.OnIncoming(func(*call.IncomingCall) { rang.Done() })

	_, err := alice.Calls.StartCall(context.Background(), "bob", domain.MediaAudio)
	require.NoError(t, err)

	rang.Wait()
	relay.mu.Lock()
	assert.Equal(t, 1, relay.signals)
	relay.mu.Unlock()
}

func TestClient_MessageRoundTrip(t *testing.T) {
	bus := channel.NewMemoryBus()
	alice, _ := startClient(t, bus, "alice", constants.SignalRouteChannel)
	bob, _ := startClient(t, bus, "bob", constants.SignalRouteChannel)

	// Execute
	entry, err := alice.Messages.SendMessage(context.Background(), "bob", "hi")
	require.NoError(t, err)

	// Assert: bob receives it and acknowledges delivery back to alice
	require.Eventually(t, func() bool {
		log := bob.Messages.Messages("alice")
		return len(log) == 1 && log[0].ID == entry.ID
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		log := alice.Messages.Messages("bob")
		return len(log) == 1 && log[0].Status == domain.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	// Execute: bob opens the conversation
	bob.Messages.SetActiveConversation("alice")

	// Assert
	require.Eventually(t, func() bool {
		log := alice.Messages.Messages("bob")
		return len(log) == 1 && log[0].Status == domain.StatusRead
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.OriginServerConfirmed, alice.Messages.Messages("bob")[0].Origin)
}

func TestClient_PresenceLifecycle(t *testing.T) {
	bus := channel.NewMemoryBus()
	alice, _ := startClient(t, bus, "alice", constants.SignalRouteChannel)
	bob, bobRelay := startClient(t, bus, "bob", constants.SignalRouteChannel)

	require.Eventually(t, func() bool {
		p, ok := alice.Presence.Get("bob")
		return ok && p.Status == domain.PresenceOnline
	}, 2*time.Second, 10*time.Millisecond)

	// Execute
	require.NoError(t, bob.Close(context.Background()))

	// Assert
	require.Eventually(t, func() bool {
		p, ok := alice.Presence.Get("bob")
		return ok && p.Status == domain.PresenceOffline
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []domain.PresenceStatus{domain.PresenceOnline, domain.PresenceOffline}, bobRelay.presenceHistory())

	select {
	case <-bob.Done():
	default:
		t.Fatal("event loop still running after Close")
	}
}
