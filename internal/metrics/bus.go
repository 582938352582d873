// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetrack_bus_dropped_total",
		Help: "Total number of event bus message drops by backend and reason",
	}, []string{"backend", "reason"})

	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetrack_bus_published_total",
		Help: "Total number of events published to the bus, by backend",
	}, []string{"backend"})
)

// IncBusDrop records a dropped bus message. Topics are per owner and are
// deliberately kept out of the labels.
func IncBusDrop(backend, reason string) {
	if backend == "" {
		backend = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(backend, reason).Inc()
}

func IncBusPublished(backend string) {
	BusPublishedTotal.WithLabelValues(backend).Inc()
}
