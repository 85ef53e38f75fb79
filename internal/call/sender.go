package call

import (
	"context"

	"secureconnect-sync/internal/channel"
	"secureconnect-sync/internal/domain"
)

// SignalSender delivers an outbound signal to the other participant
type SignalSender interface {
	SendSignal(ctx context.Context, sig domain.Signal) error
}

// ChannelSender publishes signals straight to the recipient's personal topic
type ChannelSender struct {
	pub  channel.Publisher
	self string
}

// NewChannelSender creates a sender that publishes as self
func NewChannelSender(pub channel.Publisher, self string) *ChannelSender {
	return &ChannelSender{pub: pub, self: self}
}

// SendSignal wraps sig in a call_signal event for the other participant
func (s *ChannelSender) SendSignal(ctx context.Context, sig domain.Signal) error {
	ev, err := domain.NewEvent(domain.EventCallSignal, sig)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, domain.UserTopic(sig.Recipient(s.self)), ev)
}
