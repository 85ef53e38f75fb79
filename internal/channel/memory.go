package channel

import (
	"context"
	"sync"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/constants"
	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/metrics"
)

// MemoryBus is an in-process topic hub shared by MemoryClients
type MemoryBus struct {
	mu      sync.Mutex
	subs    map[string]map[*Subscription]struct{}
	history map[string][]domain.Event
}

// NewMemoryBus creates an empty hub
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:    make(map[string]map[*Subscription]struct{}),
		history: make(map[string][]domain.Event),
	}
}

// Client returns a new, unconnected client attached to the bus
func (b *MemoryBus) Client() *MemoryClient {
	return &MemoryClient{bus: b, buffer: constants.DefaultSubscriptionBuffer}
}

// History returns every event published on topic so far
func (b *MemoryBus) History(topic string) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Event, len(b.history[topic]))
	copy(out, b.history[topic])
	return out
}

func (b *MemoryBus) publish(topic string, ev domain.Event) {
	b.mu.Lock()
	b.history[topic] = append(b.history[topic], ev)
	targets := make([]*Subscription, 0, len(b.subs[topic]))
	for s := range b.subs[topic] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(ev)
	}
}

func (b *MemoryBus) add(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[s.Topic] == nil {
		b.subs[s.Topic] = make(map[*Subscription]struct{})
	}
	b.subs[s.Topic][s] = struct{}{}
}

func (b *MemoryBus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[s.Topic], s)
}

// MemoryClient is a Client backed by a MemoryBus
type MemoryClient struct {
	bus    *MemoryBus
	buffer int

	mu        sync.Mutex
	connected bool
	subs      map[*Subscription]struct{}
}

var _ Client = (*MemoryClient)(nil)

// Connect marks the client usable
func (c *MemoryClient) Connect(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	if c.subs == nil {
		c.subs = make(map[*Subscription]struct{})
	}
	return nil
}

// Subscribe registers a subscription on the bus
func (c *MemoryClient) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, apperrors.NotConnectedError()
	}

	var sub *Subscription
	sub = newSubscription(topic, c.buffer, func() {
		c.bus.remove(sub)
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
	})
	c.subs[sub] = struct{}{}
	c.bus.add(sub)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()

	return sub, nil
}

// Publish hands ev to every subscriber of topic on the bus
func (c *MemoryClient) Publish(ctx context.Context, topic string, ev domain.Event) error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		metrics.ChannelPublishTotal.WithLabelValues(constants.ChannelDriverMemory, "error").Inc()
		return apperrors.Transport("failed to publish to "+topic, apperrors.NotConnectedError())
	}

	c.bus.publish(topic, ev)
	metrics.ChannelPublishTotal.WithLabelValues(constants.ChannelDriverMemory, "success").Inc()
	return nil
}

// Close ends every subscription opened by this client
func (c *MemoryClient) Close() error {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.connected = false
	c.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}
