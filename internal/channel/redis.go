package channel

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/constants"
	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/metrics"
)

// RedisClient carries events over Redis Pub/Sub. Topics map one-to-one to
// Redis channels.
type RedisClient struct {
	rdb    *redis.Client
	buffer int

	mu        sync.Mutex
	connected bool
	userID    string
	subs      map[*Subscription]struct{}
}

var _ Client = (*RedisClient)(nil)

// NewRedisClient wraps an existing go-redis client. The caller keeps ownership of rdb.
func NewRedisClient(rdb *redis.Client, buffer int) *RedisClient {
	if buffer <= 0 {
		buffer = constants.DefaultSubscriptionBuffer
	}
	return &RedisClient{
		rdb:    rdb,
		buffer: buffer,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Connect verifies the server is reachable
func (c *RedisClient) Connect(ctx context.Context, creds Credentials) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return apperrors.Transport("failed to reach redis", err)
	}

	c.mu.Lock()
	c.connected = true
	c.userID = creds.UserID
	c.mu.Unlock()

	logger.Info("Channel connected",
		zap.String("driver", constants.ChannelDriverRedis),
		zap.String("user_id", creds.UserID))
	return nil
}

// Subscribe opens a Redis subscription and forwards its messages as events
func (c *RedisClient) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return nil, apperrors.NotConnectedError()
	}

	pubsub := c.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, apperrors.Transport("failed to subscribe to "+topic, err)
	}

	var sub *Subscription
	sub = newSubscription(topic, c.buffer, func() {
		_ = pubsub.Close()
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
		metrics.ChannelSubscriptionsActive.WithLabelValues(constants.ChannelDriverRedis).Dec()
	})

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	metrics.ChannelSubscriptionsActive.WithLabelValues(constants.ChannelDriverRedis).Inc()

	go c.forward(ctx, pubsub, sub)

	return sub, nil
}

func (c *RedisClient) forward(ctx context.Context, pubsub *redis.PubSub, sub *Subscription) {
	defer sub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("Failed to unmarshal channel event",
					zap.String("topic", sub.Topic),
					zap.Error(err))
				continue
			}
			if !sub.deliver(ev) {
				return
			}
		}
	}
}

// Publish sends ev to every subscriber of topic
func (c *RedisClient) Publish(ctx context.Context, topic string, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return apperrors.Transport("failed to encode event", err)
	}

	if err := c.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		metrics.ChannelPublishTotal.WithLabelValues(constants.ChannelDriverRedis, "error").Inc()
		return apperrors.Transport("failed to publish to "+topic, err)
	}

	metrics.ChannelPublishTotal.WithLabelValues(constants.ChannelDriverRedis, "success").Inc()
	return nil
}

// Close ends every open subscription
func (c *RedisClient) Close() error {
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
