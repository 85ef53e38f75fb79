// Package client assembles the sync core for one participant: it owns the
// channel connection, subscribes the participant's topics and feeds every
// inbound event through the router to the call and message engines.
package client

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"secureconnect-sync/internal/call"
	"secureconnect-sync/internal/channel"
	"secureconnect-sync/internal/domain"
	"secureconnect-sync/internal/msgsync"
	"secureconnect-sync/internal/presence"
	"secureconnect-sync/internal/router"
	"secureconnect-sync/pkg/constants"
	"secureconnect-sync/pkg/logger"
)

// API is the REST collaborator the client depends on
type API interface {
	msgsync.Sender
	call.SignalSender
	UpdateStatus(ctx context.Context, status domain.PresenceStatus) error
}

// Config selects identity and routing
type Config struct {
	UserID      string
	AccessToken string
	SignalRoute string
	Sync        []msgsync.Option
	Call        []call.Option
}

// Client is a running sync core
type Client struct {
	cfg Config
	ch  channel.Client
	api API
	log *zap.Logger

	Calls    *call.Engine
	Messages *msgsync.Engine
	Presence *presence.Store
	router   *router.Router

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New wires the engines around ch and api. Nothing is connected until Start.
func New(cfg Config, ch channel.Client, api API, media call.Media) *Client {
	var sender call.SignalSender = call.NewChannelSender(ch, cfg.UserID)
	if cfg.SignalRoute == constants.SignalRouteREST {
		sender = api
	}

	c := &Client{
		cfg:      cfg,
		ch:       ch,
		api:      api,
		log:      logger.Named("client").With(zap.String("self", cfg.UserID)),
		Calls:    call.NewEngine(cfg.UserID, media, sender, cfg.Call...),
		Messages: msgsync.NewEngine(cfg.UserID, api, cfg.Sync...),
		Presence: presence.NewStore(),
		done:     make(chan struct{}),
	}
	c.router = router.New(router.Handlers{
		Messages: c.Messages,
		Statuses: c.Messages,
		Signals:  c.Calls,
		Presence: c.Presence,
	})
	return c
}

// Start connects, subscribes the personal and broadcast topics and begins
// routing events. Presence is advertised online once subscribed.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("client already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.ch.Connect(ctx, channel.Credentials{UserID: c.cfg.UserID, Token: c.cfg.AccessToken}); err != nil {
		return fmt.Errorf("failed to connect channel: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	personal, err := c.ch.Subscribe(loopCtx, domain.UserTopic(c.cfg.UserID))
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe personal topic: %w", err)
	}
	broadcast, err := c.ch.Subscribe(loopCtx, domain.BroadcastTopic)
	if err != nil {
		personal.Close()
		cancel()
		return fmt.Errorf("failed to subscribe broadcast topic: %w", err)
	}

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.loop(loopCtx, personal, broadcast)

	if err := c.api.UpdateStatus(ctx, domain.PresenceOnline); err != nil {
		c.log.Warn("Failed to advertise presence", zap.Error(err))
	}

	c.log.Info("Client started")
	return nil
}

// loop is the single consumer of both topics, so handlers never run concurrently
func (c *Client) loop(ctx context.Context, personal, broadcast *channel.Subscription) {
	defer close(c.done)
	defer personal.Close()
	defer broadcast.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-personal.Events():
			c.router.Route(ctx, ev)
		case ev := <-broadcast.Events():
			c.router.Route(ctx, ev)
		case <-personal.Done():
			c.log.Warn("Personal subscription ended")
			return
		case <-broadcast.Done():
			c.log.Warn("Broadcast subscription ended")
			return
		}
	}
}

// Done is closed when event routing stops
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close hangs up any active call, advertises offline and disconnects
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	if err := c.Calls.EndCall(ctx); err != nil {
		c.log.Warn("Failed to publish hangup on close", zap.Error(err))
	}
	if err := c.api.UpdateStatus(ctx, domain.PresenceOffline); err != nil {
		c.log.Warn("Failed to advertise offline", zap.Error(err))
	}

	cancel()
	<-c.done
	c.Calls.Wait()
	c.Messages.Close()

	if err := c.ch.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	c.log.Info("Client stopped")
	return nil
}
