// Package router classifies inbound channel events and hands them to the
// component that owns them.
package router

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/pkg/logger"
	"secureconnect-sync/pkg/metrics"
)

// MessageHandler consumes confirmed chat messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg domain.Message)
}

// StatusHandler consumes delivery status updates
type StatusHandler interface {
	HandleStatusUpdate(ctx context.Context, update domain.StatusUpdate)
}

// SignalHandler consumes call negotiation signals
type SignalHandler interface {
	HandleSignal(ctx context.Context, sig domain.Signal)
}

// PresenceHandler consumes presence records
type PresenceHandler interface {
	HandlePresence(ctx context.Context, p domain.Presence)
}

// Handlers groups the consumers; a nil handler drops its kind of event.
type Handlers struct {
	Messages MessageHandler
	Statuses StatusHandler
	Signals  SignalHandler
	Presence PresenceHandler
}

// Router dispatches events synchronously, in the order Route is called.
// Handlers must return quickly.
type Router struct {
	h   Handlers
	log *zap.Logger
}

// New creates a router over the given handlers
func New(h Handlers) *Router {
	return &Router{h: h, log: logger.Named("router")}
}

// Route classifies ev by its type tag and dispatches it. Unknown or
// malformed events are logged and dropped.
func (r *Router) Route(ctx context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventMessageReceived, domain.EventMessageSent:
		var msg domain.Message
		if !r.decode(ev, &msg) || r.h.Messages == nil {
			return
		}
		r.h.Messages.HandleMessage(ctx, msg)

	case domain.EventMessageStatusUpdated:
		var update domain.StatusUpdate
		if !r.decode(ev, &update) || r.h.Statuses == nil {
			return
		}
		r.h.Statuses.HandleStatusUpdate(ctx, update)

	case domain.EventCallSignal:
		var sig domain.Signal
		if !r.decode(ev, &sig) || r.h.Signals == nil {
			return
		}
		r.h.Signals.HandleSignal(ctx, sig)

	case domain.EventUserStatusChanged:
		var p domain.Presence
		if !r.decode(ev, &p) || r.h.Presence == nil {
			return
		}
		r.h.Presence.HandlePresence(ctx, p)

	default:
		metrics.RouterEventsTotal.WithLabelValues("unknown", "unknown").Inc()
		r.log.Warn("Dropping event with unknown type", zap.String("event_type", string(ev.Type)))
		return
	}

	metrics.RouterEventsTotal.WithLabelValues(string(ev.Type), "dispatched").Inc()
}

func (r *Router) decode(ev domain.Event, v any) bool {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		metrics.RouterEventsTotal.WithLabelValues(string(ev.Type), "malformed").Inc()
		r.log.Warn("Dropping malformed event",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err))
		return false
	}
	return true
}
