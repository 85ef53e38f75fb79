package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"secureconnect-sync/internal/domain"
)

type recordedPublish struct {
	eventType string
	err       error
}

type fakeRecorder struct {
	calls []recordedPublish
}

func (r *fakeRecorder) RecordPublishedEvent(eventType string, err error) {
	r.calls = append(r.calls, recordedPublish{eventType, err})
}

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, string, domain.Event) error { return p.err }

func TestInstrumented_RecordsOutcome(t *testing.T) {
	rec := &fakeRecorder{}
	boom := errors.New("redis down")

	ok := Instrumented(failingPublisher{}, rec)
	bad := Instrumented(failingPublisher{err: boom}, rec)

	assert.NoError(t, ok.Publish(context.Background(), "user:bob", domain.Event{Type: domain.EventCallSignal}))
	assert.ErrorIs(t, bad.Publish(context.Background(), "user:bob", domain.Event{Type: domain.EventMessageSent}), boom)

	assert.Equal(t, []recordedPublish{
		{eventType: "call_signal"},
		{eventType: "message_sent", err: boom},
	}, rec.calls)
}
