// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"github.com/ManuGH/timetrack/internal/domain/session/store"
	"github.com/ManuGH/timetrack/internal/validate"
)

// Validate checks cfg. Capture bounds follow the desktop settings screen:
// 1..30 minute intervals and 1..10 captures per interval.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.LogLevel("logLevel", cfg.LogLevel)
	v.NotEmpty("dataDir", cfg.DataDir)

	v.NonNegative("session.minSessionDurationSeconds", cfg.Session.MinSessionDurationSeconds)
	v.NonNegativeDuration("session.pausedMaxAge", cfg.Session.PausedMaxAge)
	v.NonNegativeDuration("session.sweepInterval", cfg.Session.SweepInterval)

	c := cfg.Capture
	v.Range("capture.intervalMinutes", c.IntervalMinutes, 1, 30)
	v.Range("capture.perInterval", c.PerInterval, 1, 10)
	v.Range("capture.maxUploadRetries", c.MaxUploadRetries, 1, 20)
	v.PositiveDuration("capture.retryBaseDelay", c.RetryBaseDelay)
	if c.RetryMaxDelay < c.RetryBaseDelay {
		v.AddError("capture.retryMaxDelay", "must not be below retryBaseDelay", c.RetryMaxDelay)
	}
	v.Range("capture.concurrency", c.Concurrency, 1, 16)
	v.NonNegativeDuration("capture.gracePeriod", c.GracePeriod)

	ch := cfg.Channel
	if ch.URL != "" {
		v.URL("channel.url", ch.URL, []string{"ws", "wss"})
	}
	if ch.APIURL != "" {
		v.URL("channel.apiUrl", ch.APIURL, []string{"http", "https"})
	}
	v.PositiveDuration("channel.reconnectBaseDelay", ch.ReconnectBaseDelay)
	if ch.ReconnectMaxDelay < ch.ReconnectBaseDelay {
		v.AddError("channel.reconnectMaxDelay", "must not be below reconnectBaseDelay", ch.ReconnectMaxDelay)
	}
	if ch.ReconnectMultiplier < 1 {
		v.AddError("channel.reconnectMultiplier", "must be at least 1", ch.ReconnectMultiplier)
	}
	v.FloatRange("channel.reconnectJitter", ch.ReconnectJitter, 0, 1)
	v.Positive("channel.outboundQueueCapacity", ch.OutboundQueueCapacity)
	v.PositiveDuration("channel.authTimeout", ch.AuthTimeout)
	v.PositiveDuration("channel.idleTimeout", ch.IdleTimeout)

	v.OneOf("store.backend", cfg.Store.Backend, store.Backends())
	v.OneOf("bus.backend", cfg.Bus.Backend, []string{"memory", "redis"})
	if cfg.Bus.Backend == "redis" {
		v.NotEmpty("bus.redisAddr", cfg.Bus.RedisAddr)
	}

	v.NotEmpty("api.listenAddr", cfg.API.ListenAddr)
	v.NonNegative("api.rateLimitRequests", cfg.API.RateLimitRequests)
	if cfg.API.RateLimitRequests > 0 {
		v.PositiveDuration("api.rateLimitWindow", cfg.API.RateLimitWindow)
	}
	if cfg.API.MaxUploadBytes <= 0 {
		v.AddError("api.maxUploadBytes", "must be positive", cfg.API.MaxUploadBytes)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}
