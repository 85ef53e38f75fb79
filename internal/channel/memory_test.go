package channel

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secureconnect-sync/internal/domain"
	apperrors "secureconnect-sync/pkg/errors"
)

func recv(t *testing.T, sub *Subscription) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.Event{}
}

func TestMemoryClient_PublishReachesOtherClients(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	alice, bob := bus.Client(), bus.Client()
	require.NoError(t, alice.Connect(ctx, Credentials{UserID: "alice"}))
	require.NoError(t, bob.Connect(ctx, Credentials{UserID: "bob"}))

	sub, err := bob.Subscribe(ctx, domain.UserTopic("bob"))
	require.NoError(t, err)

	ev, err := domain.NewEvent(domain.EventCallSignal, map[string]string{"callId": "c1"})
	require.NoError(t, err)
	require.NoError(t, alice.Publish(ctx, domain.UserTopic("bob"), ev))

	got := recv(t, sub)
	assert.Equal(t, domain.EventCallSignal, got.Type)
	assert.Len(t, bus.History(domain.UserTopic("bob")), 1)
}

func TestMemoryClient_PreservesOrderPerTopic(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	c := bus.Client()
	require.NoError(t, c.Connect(ctx, Credentials{UserID: "alice"}))
	sub, err := c.Subscribe(ctx, "user:alice")
	require.NoError(t, err)

	// more than the buffer, without a reader
	for i := 0; i < 200; i++ {
		require.NoError(t, c.Publish(ctx, "user:alice", domain.Event{Type: domain.EventType(string(rune('a' + i%26)))}))
	}

	for i := 0; i < 200; i++ {
		assert.Equal(t, domain.EventType(string(rune('a'+i%26))), recv(t, sub).Type)
	}
}

func TestMemoryClient_CloseEndsStream(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryBus().Client()
	require.NoError(t, c.Connect(ctx, Credentials{}))
	sub, err := c.Subscribe(ctx, "user:alice")
	require.NoError(t, err)

	require.NoError(t, c.Close())

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}

	err = c.Publish(ctx, "user:alice", domain.Event{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeTransport))
}

func TestMemoryClient_ContextCancelEndsSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewMemoryBus().Client()
	require.NoError(t, c.Connect(ctx, Credentials{}))
	sub, err := c.Subscribe(ctx, "user:alice")
	require.NoError(t, err)

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription still open")
	}
}

func TestSubscribe_RequiresConnect(t *testing.T) {
	_, err := NewMemoryBus().Client().Subscribe(context.Background(), "user:alice")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotConnected))

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	_, err = NewRedisClient(rdb, 0).Subscribe(context.Background(), "user:alice")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotConnected))
}
