package channel

import (
	"context"

	"secureconnect-sync/internal/domain"
)

// PublishRecorder observes the outcome of each publish
type PublishRecorder interface {
	RecordPublishedEvent(eventType string, err error)
}

// Instrumented wraps a Publisher so every publish is reported to rec
func Instrumented(pub Publisher, rec PublishRecorder) Publisher {
	return &instrumentedPublisher{pub: pub, rec: rec}
}

type instrumentedPublisher struct {
	pub Publisher
	rec PublishRecorder
}

func (p *instrumentedPublisher) Publish(ctx context.Context, topic string, ev domain.Event) error {
	err := p.pub.Publish(ctx, topic, ev)
	p.rec.RecordPublishedEvent(string(ev.Type), err)
	return err
}
