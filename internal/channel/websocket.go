package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/constants"
	apperrors "secureconnect-sync/pkg/errors"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/metrics"
)

var errConnectionClosed = errors.New("websocket connection closed")

// WebSocketClient speaks the relay gateway's frame protocol
type WebSocketClient struct {
	url    string
	dialer *websocket.Dialer
	buffer int

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	subs    map[string]map[*Subscription]struct{}
	pending map[uint64]chan error
	closed  chan struct{}
	nextID  atomic.Uint64
}

var _ Client = (*WebSocketClient)(nil)

// NewWebSocketClient creates an unconnected client for the gateway at url
func NewWebSocketClient(url string, buffer int) *WebSocketClient {
	if buffer <= 0 {
		buffer = constants.DefaultSubscriptionBuffer
	}
	return &WebSocketClient{
		url:    url,
		dialer: websocket.DefaultDialer,
		buffer: buffer,
	}
}

// Connect dials the gateway with the bearer token and starts the read and ping loops
func (c *WebSocketClient) Connect(ctx context.Context, creds Credentials) error {
	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return apperrors.Transport("failed to dial gateway", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.subs = make(map[string]map[*Subscription]struct{})
	c.pending = make(map[uint64]chan error)
	c.closed = make(chan struct{})
	closed := c.closed
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	})

	go c.readLoop(conn, closed)
	go c.pingLoop(conn, closed)

	logger.Info("Channel connected",
		zap.String("driver", constants.ChannelDriverWebSocket),
		zap.String("user_id", creds.UserID),
		zap.String("url", c.url))
	return nil
}

// Subscribe asks the gateway to forward topic and waits for its ack
func (c *WebSocketClient) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if err := c.request(ctx, Frame{Op: OpSubscribe, Topic: topic}); err != nil {
		return nil, err
	}

	var sub *Subscription
	sub = newSubscription(topic, c.buffer, func() {
		if c.removeSub(sub) {
			unsubCtx, cancel := context.WithTimeout(context.Background(), constants.PublishTimeout)
			defer cancel()
			_ = c.request(unsubCtx, Frame{Op: OpUnsubscribe, Topic: topic})
		}
		metrics.ChannelSubscriptionsActive.WithLabelValues(constants.ChannelDriverWebSocket).Dec()
	})

	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[*Subscription]struct{})
	}
	c.subs[topic][sub] = struct{}{}
	c.mu.Unlock()
	metrics.ChannelSubscriptionsActive.WithLabelValues(constants.ChannelDriverWebSocket).Inc()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()

	return sub, nil
}

// removeSub drops sub and reports whether it was the topic's last subscriber
func (c *WebSocketClient) removeSub(sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.subs[sub.Topic]
	if !ok {
		return false
	}
	delete(set, sub)
	if len(set) > 0 {
		return false
	}
	delete(c.subs, sub.Topic)
	return c.conn != nil
}

// Publish hands ev to the gateway for fan-out
func (c *WebSocketClient) Publish(ctx context.Context, topic string, ev domain.Event) error {
	err := c.request(ctx, Frame{Op: OpPublish, Topic: topic, Event: &ev})
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ChannelPublishTotal.WithLabelValues(constants.ChannelDriverWebSocket, status).Inc()
	return err
}

func (c *WebSocketClient) request(ctx context.Context, f Frame) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return apperrors.NotConnectedError()
	}
	f.ID = c.nextID.Add(1)
	reply := make(chan error, 1)
	c.pending[f.ID] = reply
	closed := c.closed
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return apperrors.Transport("failed to send "+f.Op+" frame", err)
	}

	select {
	case err := <-reply:
		if err != nil {
			return apperrors.Transport(f.Op+" rejected by gateway", err)
		}
		return nil
	case <-closed:
		return apperrors.Transport(f.Op+" interrupted", errConnectionClosed)
	case <-ctx.Done():
		return apperrors.Transport(f.Op+" timed out", ctx.Err())
	}
}

func (c *WebSocketClient) write(f Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
	return conn.WriteJSON(f)
}

func (c *WebSocketClient) readLoop(conn *websocket.Conn, closed chan struct{}) {
	defer c.teardown(conn, closed)

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Gateway connection lost", zap.Error(err))
			}
			return
		}

		switch f.Op {
		case OpEvent:
			if f.Event == nil {
				continue
			}
			c.mu.Lock()
			targets := make([]*Subscription, 0, len(c.subs[f.Topic]))
			for s := range c.subs[f.Topic] {
				targets = append(targets, s)
			}
			c.mu.Unlock()
			for _, s := range targets {
				s.deliver(*f.Event)
			}
		case OpAck, OpError:
			var result error
			if f.Op == OpError {
				result = errors.New(f.Error)
			}
			c.mu.Lock()
			reply, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- result:
				default:
				}
			}
		default:
			logger.Debug("Ignoring gateway frame", zap.String("op", f.Op))
		}
	}
}

func (c *WebSocketClient) pingLoop(conn *websocket.Conn, closed chan struct{}) {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(constants.WebSocketWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// teardown ends every subscription once the connection is gone
func (c *WebSocketClient) teardown(conn *websocket.Conn, closed chan struct{}) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	var subs []*Subscription
	for _, set := range c.subs {
		for s := range set {
			subs = append(subs, s)
		}
	}
	c.subs = make(map[string]map[*Subscription]struct{})
	close(closed)
	c.mu.Unlock()

	_ = conn.Close()
	for _, s := range subs {
		s.Close()
	}
}

// Close sends a close frame and tears the connection down
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(constants.WebSocketWriteWait))
	c.writeMu.Unlock()

	c.teardown(conn, closed)
	return nil
}
