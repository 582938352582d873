// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	channelState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "timetrack_channel_state",
		Help: "Observer channel supervisor state (1 for the current state).",
	}, []string{"state"})

	channelReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timetrack_channel_reconnects_total",
		Help: "Connection attempts made by the channel supervisor after the first.",
	})

	channelQueueDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timetrack_channel_queue_dropped_total",
		Help: "Queued actions discarded because the outbound queue overflowed.",
	})

	channelQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timetrack_channel_queue_depth",
		Help: "Unacknowledged actions held by the supervisor.",
	})

	hubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timetrack_hub_connections",
		Help: "Authenticated event channel connections held by the authority.",
	})

	hubAuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetrack_hub_auth_failures_total",
		Help: "Rejected event channel handshakes, by reason.",
	}, []string{"reason"})

	mirrorEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetrack_mirror_events_total",
		Help: "Events handled by the local mirror, by outcome (applied, ignored, resync).",
	}, []string{"outcome"})
)

var channelStates = []string{"disconnected", "connecting", "authenticating", "subscribed", "backoff"}

func SetChannelState(state string) {
	for _, s := range channelStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		channelState.WithLabelValues(s).Set(v)
	}
}

func IncChannelReconnect()            { channelReconnectsTotal.Inc() }
func IncChannelQueueDropped()         { channelQueueDroppedTotal.Inc() }
func SetChannelQueueDepth(n int)      { channelQueueDepth.Set(float64(n)) }
func IncHubConnections()              { hubConnections.Inc() }
func DecHubConnections()              { hubConnections.Dec() }
func IncHubAuthFailure(reason string) { hubAuthFailuresTotal.WithLabelValues(reason).Inc() }
func RecordMirrorEvent(outcome string) {
	mirrorEventsTotal.WithLabelValues(outcome).Inc()
}
