// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/ManuGH/timetrack/internal/api"
	"github.com/ManuGH/timetrack/internal/api/middleware"
	"github.com/ManuGH/timetrack/internal/auth"
	"github.com/ManuGH/timetrack/internal/bus"
	"github.com/ManuGH/timetrack/internal/capture"
	"github.com/ManuGH/timetrack/internal/channel"
	"github.com/ManuGH/timetrack/internal/domain/session/authority"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/resilience"
	"github.com/ManuGH/timetrack/internal/telemetry"
)

// CaptureSettings returns the scheduler configuration.
func (c AppConfig) CaptureSettings() capture.Config {
	return capture.Config{
		Interval:       time.Duration(c.Capture.IntervalMinutes) * time.Minute,
		PerInterval:    c.Capture.PerInterval,
		MaxRetries:     c.Capture.MaxUploadRetries,
		RetryBaseDelay: c.Capture.RetryBaseDelay,
		RetryMaxDelay:  c.Capture.RetryMaxDelay,
		Concurrency:    c.Capture.Concurrency,
		GracePeriod:    c.Capture.GracePeriod,
	}
}

// CaptureRand returns a seeded source when capture.seed is set.
func (c AppConfig) CaptureRand() *rand.Rand {
	return seeded(c.Capture.Seed)
}

func (c AppConfig) SupervisorSettings() channel.SupervisorConfig {
	cfg := channel.DefaultSupervisorConfig()
	cfg.DeviceID = c.Channel.DeviceID
	cfg.AuthTimeout = c.Channel.AuthTimeout
	cfg.QueueCapacity = c.Channel.OutboundQueueCapacity
	cfg.Backoff = resilience.BackoffConfig{
		Base:       c.Channel.ReconnectBaseDelay,
		Max:        c.Channel.ReconnectMaxDelay,
		Multiplier: c.Channel.ReconnectMultiplier,
		Jitter:     c.Channel.ReconnectJitter,
	}
	cfg.Rand = seeded(c.Channel.Seed)
	return cfg
}

func seeded(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

func (c AppConfig) AuthoritySettings() authority.Config {
	cfg := authority.DefaultConfig()
	cfg.MinSessionDuration = time.Duration(c.Session.MinSessionDurationSeconds) * time.Second
	return cfg
}

func (c AppConfig) SweeperSettings() authority.SweeperConfig {
	return authority.SweeperConfig{
		Interval:     c.Session.SweepInterval,
		PausedMaxAge: c.Session.PausedMaxAge,
	}
}

func (c AppConfig) RedisSettings() bus.RedisConfig {
	return bus.RedisConfig{
		Addr:     c.Bus.RedisAddr,
		Password: c.Bus.RedisPassword,
		DB:       c.Bus.RedisDB,
		Prefix:   c.Bus.Prefix,
	}
}

func (c AppConfig) APISettings() api.Config {
	cfg := api.DefaultConfig()
	cfg.Environment = c.Environment
	cfg.MaxUploadBytes = c.API.MaxUploadBytes
	if c.API.RateLimitRequests > 0 {
		cfg.RateLimit = &middleware.RateLimitConfig{
			RequestLimit: c.API.RateLimitRequests,
			WindowSize:   c.API.RateLimitWindow,
		}
	} else {
		cfg.RateLimit = nil
	}
	if !c.Telemetry.Enabled {
		cfg.TracingService = ""
	}
	return cfg
}

func (c AppConfig) TelemetrySettings(service string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    service,
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		ExporterType:   c.Telemetry.Exporter,
		Endpoint:       c.Telemetry.Endpoint,
		SamplingRate:   c.Telemetry.SamplingRate,
	}
}

func (c AppConfig) LogSettings() log.Config {
	return log.Config{Level: c.LogLevel, Service: c.LogService, Version: c.Version}
}

// Path resolves p against DataDir unless it is empty or absolute.
func (c AppConfig) Path(p, fallback string) string {
	if p == "" {
		p = fallback
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

const redacted = "***"

// Redacted returns a copy with secrets masked, for dumping.
func (c AppConfig) Redacted() AppConfig {
	if c.Channel.Token != "" {
		c.Channel.Token = redacted
	}
	if c.Bus.RedisPassword != "" {
		c.Bus.RedisPassword = redacted
	}
	tokens := make([]auth.TokenEntry, len(c.API.Tokens))
	for i, t := range c.API.Tokens {
		tokens[i] = auth.TokenEntry{Token: redacted, Owner: t.OwnerID()}
	}
	c.API.Tokens = tokens
	return c
}
