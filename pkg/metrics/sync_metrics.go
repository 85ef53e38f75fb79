package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client-side metrics for call negotiation, message sync and routing
var (
	// Call negotiation
	CallSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signals_total",
		Help: "Total number of call signals handled",
	}, []string{"direction", "signal_type"}) // "inbound", "outbound"

	CallPhaseTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_phase_transitions_total",
		Help: "Total number of call phase transitions",
	}, []string{"from", "to"})

	CallFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_failures_total",
		Help: "Total number of calls torn down by a failure",
	}, []string{"kind"}) // "media", "negotiation", "transport"

	CallStaleSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_stale_signals_total",
		Help: "Total number of signals ignored because they did not match the active call",
	}, []string{"signal_type"})

	CallBusyDeclinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_busy_declined_total",
		Help: "Total number of inbound offers auto-declined while another call was active",
	})

	// Signal routing
	RouterEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_events_total",
		Help: "Total number of inbound channel events by type and outcome",
	}, []string{"type", "outcome"}) // "dispatched", "unknown", "malformed"

	// Message sync
	MsgSyncSendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsync_send_total",
		Help: "Total number of optimistic sends by outcome",
	}, []string{"outcome"}) // "confirmed", "failed"

	MsgSyncDuplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsync_duplicates_total",
		Help: "Total number of inbound messages collapsed into an existing entry",
	}, []string{"reason"}) // "id", "echo"

	MsgSyncStatusUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgsync_status_updates_total",
		Help: "Total number of delivery status updates by outcome",
	}, []string{"outcome"}) // "applied", "backward", "unknown"

	// Transport
	ChannelPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_publish_total",
		Help: "Total number of channel publishes",
	}, []string{"driver", "status"})

	ChannelEventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "channel_events_dropped_total",
		Help: "Total number of inbound events dropped because a subscriber fell behind",
	})

	ChannelSubscriptionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "channel_subscriptions_active",
		Help: "Current number of open channel subscriptions",
	}, []string{"driver"})

	PresenceUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_updates_total",
		Help: "Total number of presence records applied",
	})
)
