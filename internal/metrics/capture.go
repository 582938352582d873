// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captureTakenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetrack_capture_taken_total",
		Help: "Capture attempts by outcome (ok, capture_error, stage_error, skipped).",
	}, []string{"outcome"})

	captureDeliveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetrack_capture_delivery_total",
		Help: "Capture upload attempts by outcome (delivered, retry, failed, cancelled).",
	}, []string{"outcome"})

	captureUploadSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "timetrack_capture_upload_seconds",
		Help:    "Duration of a single capture upload attempt.",
		Buckets: prometheus.DefBuckets,
	})

	captureInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timetrack_capture_in_flight",
		Help: "Captures currently being delivered.",
	})

	captureReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetrack_capture_received_total",
		Help: "Capture uploads received by the authority, by outcome.",
	}, []string{"outcome"})
)

func RecordCaptureTaken(outcome string)    { captureTakenTotal.WithLabelValues(outcome).Inc() }
func RecordCaptureDelivery(outcome string) { captureDeliveryTotal.WithLabelValues(outcome).Inc() }
func ObserveCaptureUpload(seconds float64) { captureUploadSeconds.Observe(seconds) }
func IncCaptureInFlight()                  { captureInFlight.Inc() }
func DecCaptureInFlight()                  { captureInFlight.Dec() }
func RecordCaptureReceived(outcome string) { captureReceivedTotal.WithLabelValues(outcome).Inc() }
