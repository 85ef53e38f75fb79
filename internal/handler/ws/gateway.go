package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"secureconnect-sync/internal/channel"
	"secureconnect-sync/internal/domain"
	"secureconnect-sync/internal/middleware"
	"secureconnect-sync/pkg/constants"
	"secureconnect-sync/pkg/logger"
)

// Recorder observes gateway connections and frames
type Recorder interface {
	AddWebSocketConnections(delta int)
	RecordWebSocketMessage(op, direction string)
}

// Gateway bridges client WebSockets onto the relay's channel. A client may
// subscribe to its own topic and the broadcast topic, and may publish call
// signals to the other participant's topic.
type Gateway struct {
	bus      channel.Client
	recorder Recorder
	upgrader websocket.Upgrader

	maxConnections int
	semaphore      chan struct{}
}

// NewGateway creates a gateway over bus. Browser origins must be listed in
// allowedOrigins; native clients that send no Origin are accepted.
func NewGateway(bus channel.Client, recorder Recorder, allowedOrigins []string, maxConnections int) *Gateway {
	if maxConnections <= 0 {
		maxConnections = constants.WebSocketMaxConnections
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Gateway{
		bus:      bus,
		recorder: recorder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
		maxConnections: maxConnections,
		semaphore:      make(chan struct{}, maxConnections),
	}
}

// ServeWS upgrades an authenticated request and runs the connection
// GET /v1/ws
func (g *Gateway) ServeWS(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	select {
	case g.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", g.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-g.semaphore
		logger.Warn("WebSocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &gatewayConn{
		gw:     g,
		ws:     ws,
		userID: userID,
		send:   make(chan channel.Frame, constants.WebSocketSendBuffer),
		subs:   make(map[string]*channel.Subscription),
		ctx:    ctx,
		cancel: cancel,
	}

	g.recorder.AddWebSocketConnections(1)
	logger.Debug("Gateway connection opened", zap.String("user_id", userID))

	go conn.writePump()
	go func() {
		conn.readPump()
		conn.close()
		<-g.semaphore
		g.recorder.AddWebSocketConnections(-1)
		logger.Debug("Gateway connection closed", zap.String("user_id", userID))
	}()
}

// gatewayConn is one client connection
type gatewayConn struct {
	gw     *Gateway
	ws     *websocket.Conn
	userID string
	send   chan channel.Frame

	mu   sync.Mutex
	subs map[string]*channel.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *gatewayConn) readPump() {
	c.ws.SetReadLimit(constants.WebSocketMaxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	})

	for {
		var f channel.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID),
					zap.Error(err))
			}
			return
		}
		c.gw.recorder.RecordWebSocketMessage(f.Op, "in")

		if err := c.handle(f); err != nil {
			c.enqueue(channel.Frame{Op: channel.OpError, ID: f.ID, Topic: f.Topic, Error: err.Error()})
			continue
		}
		c.enqueue(channel.Frame{Op: channel.OpAck, ID: f.ID, Topic: f.Topic})
	}
}

func (c *gatewayConn) handle(f channel.Frame) error {
	switch f.Op {
	case channel.OpSubscribe:
		return c.subscribe(f.Topic)
	case channel.OpUnsubscribe:
		c.unsubscribe(f.Topic)
		return nil
	case channel.OpPublish:
		return c.publish(f.Topic, f.Event)
	default:
		return fmt.Errorf("unsupported op %q", f.Op)
	}
}

func (c *gatewayConn) subscribe(topic string) error {
	if topic != domain.BroadcastTopic && topic != domain.UserTopic(c.userID) {
		return fmt.Errorf("not allowed to subscribe to %s", topic)
	}

	c.mu.Lock()
	if _, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sub, err := c.gw.bus.Subscribe(c.ctx, topic)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if _, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		sub.Close()
		return nil
	}
	c.subs[topic] = sub
	c.mu.Unlock()

	go c.forward(sub)
	return nil
}

func (c *gatewayConn) unsubscribe(topic string) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// publish accepts only call signals sent by a participant to the other
// participant's topic. Messages and presence go through the REST routes.
func (c *gatewayConn) publish(topic string, ev *domain.Event) error {
	if ev == nil {
		return fmt.Errorf("publish frame has no event")
	}
	if ev.Type != domain.EventCallSignal {
		return fmt.Errorf("clients may only publish %s events", domain.EventCallSignal)
	}

	var sig domain.Signal
	if err := json.Unmarshal(ev.Data, &sig); err != nil {
		return fmt.Errorf("malformed signal: %w", err)
	}
	if err := sig.Validate(); err != nil {
		return err
	}
	if c.userID != sig.CallerID && c.userID != sig.CalleeID {
		return fmt.Errorf("not a participant of call %s", sig.CallID)
	}
	if domain.TopicOwner(topic) != sig.Recipient(c.userID) {
		return fmt.Errorf("signal for call %s must go to %s", sig.CallID, domain.UserTopic(sig.Recipient(c.userID)))
	}

	ctx, cancel := context.WithTimeout(c.ctx, constants.PublishTimeout)
	defer cancel()
	return c.gw.bus.Publish(ctx, topic, *ev)
}

func (c *gatewayConn) forward(sub *channel.Subscription) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			event := ev
			c.enqueue(channel.Frame{Op: channel.OpEvent, Topic: sub.Topic, Event: &event})
		case <-c.ctx.Done():
			return
		}
	}
}

// enqueue hands f to the writer. A client that cannot keep up is dropped.
func (c *gatewayConn) enqueue(f channel.Frame) {
	select {
	case c.send <- f:
	case <-c.ctx.Done():
	default:
		logger.Warn("Dropping slow gateway client", zap.String("user_id", c.userID))
		c.cancel()
	}
}

func (c *gatewayConn) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case f := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.ws.WriteJSON(f); err != nil {
				c.cancel()
				return
			}
			c.gw.recorder.RecordWebSocketMessage(f.Op, "out")

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// close ends the connection's subscriptions and stops the writer
func (c *gatewayConn) close() {
	c.cancel()
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*channel.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
