// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads tracker and authority settings with precedence
// ENV > file > defaults.
package config

import (
	"time"

	"github.com/ManuGH/timetrack/internal/auth"
)

// AppConfig is the full runtime configuration shared by the daemon and the
// tracker. Fields unused by one binary are ignored by it.
type AppConfig struct {
	LogLevel    string `yaml:"logLevel"`
	LogService  string `yaml:"logService"`
	Environment string `yaml:"environment"`
	DataDir     string `yaml:"dataDir"`

	Session   SessionConfig   `yaml:"session"`
	Capture   CaptureConfig   `yaml:"capture"`
	Channel   ChannelConfig   `yaml:"channel"`
	Store     StoreConfig     `yaml:"store"`
	Bus       BusConfig       `yaml:"bus"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Version is stamped from the binary, never read from file.
	Version string `yaml:"-"`
}

type SessionConfig struct {
	MinSessionDurationSeconds int           `yaml:"minSessionDurationSeconds"`
	PausedMaxAge              time.Duration `yaml:"pausedMaxAge"`
	SweepInterval             time.Duration `yaml:"sweepInterval"`
}

type CaptureConfig struct {
	IntervalMinutes  int           `yaml:"intervalMinutes"`
	PerInterval      int           `yaml:"perInterval"`
	MaxUploadRetries int           `yaml:"maxUploadRetries"`
	RetryBaseDelay   time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay    time.Duration `yaml:"retryMaxDelay"`
	Concurrency      int           `yaml:"concurrency"`
	GracePeriod      time.Duration `yaml:"gracePeriod"`
	StagingDir       string        `yaml:"stagingDir"`
	DBPath           string        `yaml:"dbPath"`
	// Command is the capture program's argv; empty uses the placeholder.
	Command []string `yaml:"command"`
	Seed    int64    `yaml:"seed"`
}

type ChannelConfig struct {
	URL                   string        `yaml:"url"`
	APIURL                string        `yaml:"apiUrl"`
	Token                 string        `yaml:"token"`
	DeviceID              string        `yaml:"deviceId"`
	ReconnectBaseDelay    time.Duration `yaml:"reconnectBaseDelay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnectMaxDelay"`
	ReconnectMultiplier   float64       `yaml:"reconnectMultiplier"`
	ReconnectJitter       float64       `yaml:"reconnectJitter"`
	OutboundQueueCapacity int           `yaml:"outboundQueueCapacity"`
	AuthTimeout           time.Duration `yaml:"authTimeout"`
	// IdleTimeout drops a subscription that has seen no frame, ping
	// included, for this long.
	IdleTimeout time.Duration `yaml:"idleTimeout"`
	Seed        int64         `yaml:"seed"`
}

type StoreConfig struct {
	// Backend is memory, sqlite or badger.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	BlobDir string `yaml:"blobDir"`
}

type BusConfig struct {
	// Backend is memory or redis.
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	Prefix        string `yaml:"prefix"`
}

type APIConfig struct {
	ListenAddr        string            `yaml:"listenAddr"`
	Tokens            []auth.TokenEntry `yaml:"tokens"`
	RateLimitRequests int               `yaml:"rateLimitRequests"`
	RateLimitWindow   time.Duration     `yaml:"rateLimitWindow"`
	MaxUploadBytes    int64             `yaml:"maxUploadBytes"`
	ShutdownTimeout   time.Duration     `yaml:"shutdownTimeout"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		LogLevel:    "info",
		LogService:  "timetrack",
		Environment: "development",
		DataDir:     "./data",
		Session: SessionConfig{
			MinSessionDurationSeconds: 60,
			SweepInterval:             time.Minute,
		},
		Capture: CaptureConfig{
			IntervalMinutes:  10,
			PerInterval:      2,
			MaxUploadRetries: 3,
			RetryBaseDelay:   5 * time.Second,
			RetryMaxDelay:    5 * time.Minute,
			Concurrency:      2,
			GracePeriod:      10 * time.Second,
		},
		Channel: ChannelConfig{
			URL:                   "ws://localhost:8080/ws",
			APIURL:                "http://localhost:8080",
			ReconnectBaseDelay:    500 * time.Millisecond,
			ReconnectMaxDelay:     30 * time.Second,
			ReconnectMultiplier:   2,
			ReconnectJitter:       0.2,
			OutboundQueueCapacity: 100,
			AuthTimeout:           10 * time.Second,
			IdleTimeout:           time.Minute,
		},
		Store: StoreConfig{Backend: "sqlite"},
		Bus:   BusConfig{Backend: "memory", Prefix: "timetrack"},
		API: APIConfig{
			ListenAddr:        ":8080",
			RateLimitRequests: 100,
			RateLimitWindow:   15 * time.Minute,
			MaxUploadBytes:    5 << 20,
			ShutdownTimeout:   10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1,
		},
	}
}
