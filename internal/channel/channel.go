// Package channel adapts publish/subscribe transports to the event stream the
// sync core consumes. A Client is owned by whoever constructs it and is passed
// explicitly to the components that publish or subscribe.
package channel

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/constants"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/metrics"
)

// Credentials identify the local participant to the transport
type Credentials struct {
	UserID string
	Token  string
}

// Publisher is the outbound half of a Client
type Publisher interface {
	Publish(ctx context.Context, topic string, ev domain.Event) error
}

// Client is a connected publish/subscribe transport.
//
// Delivery is at-least-once with no ordering across topics. Subscriptions end
// when closed, when their context is cancelled or when the connection drops;
// a dropped stream is restarted only by reconnecting.
type Client interface {
	Publisher
	Connect(ctx context.Context, creds Credentials) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// Subscription is the stream of events published on one topic
type Subscription struct {
	Topic string

	out   chan domain.Event
	done  chan struct{}
	once  sync.Once
	onEnd func()

	mu       sync.Mutex
	queue    []domain.Event
	maxQueue int
	notify   chan struct{}
	dropped  atomic.Int64
}

func newSubscription(topic string, buffer int, onEnd func()) *Subscription {
	s := &Subscription{
		Topic:  topic,
		out:    make(chan domain.Event, buffer),
		done:   make(chan struct{}),
		onEnd:    onEnd,
		maxQueue: buffer * constants.SubscriptionBacklogFactor,
		notify:   make(chan struct{}, 1),
	}
	go s.pump()
	return s
}

// Events returns the stream. It is closed once the subscription ends.
func (s *Subscription) Events() <-chan domain.Event {
	return s.out
}

// Done is closed when the subscription ends
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.onEnd != nil {
			s.onEnd()
		}
	})
}

// Dropped reports how many events were discarded because the consumer fell
// behind the backlog limit
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// deliver queues ev without blocking the transport's reader. Once the backlog
// is full the event is dropped and counted; the subscription stays open.
// It returns false only after the subscription has ended.
func (s *Subscription) deliver(ev domain.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.mu.Lock()
	if len(s.queue) >= s.maxQueue {
		s.mu.Unlock()
		if s.dropped.Add(1) == 1 {
			logger.Warn("Subscriber falling behind, dropping events",
				zap.String("topic", s.Topic),
				zap.Int("backlog", s.maxQueue))
		}
		metrics.ChannelEventsDroppedTotal.Inc()
		return true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range pending {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}
