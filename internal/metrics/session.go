// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics provides Prometheus metrics for the tracking subsystems.
// Labels never carry session, owner or capture ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionTransitionsTotal counts lifecycle requests by action and outcome
	// (ok, or the error kind).
	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetrack_session_transitions_total",
		Help: "Session lifecycle requests, by action and outcome.",
	}, []string{"action", "outcome"})

	SessionShortTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timetrack_session_short_total",
		Help: "Stopped sessions whose active duration fell below the minimum.",
	})

	SessionAutoStopTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timetrack_session_auto_stop_total",
		Help: "Sessions stopped by the sweeper after staying paused too long.",
	})

	SessionActiveSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "timetrack_session_active_seconds",
		Help:    "Accumulated active duration of stopped sessions.",
		Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
	})

	BroadcastDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timetrack_session_broadcast_dropped_total",
		Help: "Session events dropped because the broadcast queue was full.",
	})
)

func RecordTransition(action, outcome string) {
	SessionTransitionsTotal.WithLabelValues(action, outcome).Inc()
}

func RecordSessionStopped(activeSeconds float64, short bool) {
	SessionActiveSeconds.Observe(activeSeconds)
	if short {
		SessionShortTotal.Inc()
	}
}

func IncSessionAutoStop() { SessionAutoStopTotal.Inc() }

func IncBroadcastDropped() { BroadcastDroppedTotal.Inc() }
