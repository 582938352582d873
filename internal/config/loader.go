// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/timetrack/internal/auth"
)

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) Path() string { return l.configPath }

func (l *Loader) key(name string) string {
	k := EnvPrefix + name
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

// Load parses the file strictly, applies the environment, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg. Unknown fields are fatal.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = ParseString(l.key("LOG_LEVEL"), cfg.LogLevel)
	cfg.LogService = ParseString(l.key("LOG_SERVICE"), cfg.LogService)
	cfg.Environment = ParseString(l.key("ENV"), cfg.Environment)
	cfg.DataDir = ParseString(l.key("DATA_DIR"), cfg.DataDir)

	s := &cfg.Session
	s.MinSessionDurationSeconds = ParseInt(l.key("MIN_SESSION_SECONDS"), s.MinSessionDurationSeconds)
	s.PausedMaxAge = ParseDuration(l.key("PAUSED_MAX_AGE"), s.PausedMaxAge)
	s.SweepInterval = ParseDuration(l.key("SWEEP_INTERVAL"), s.SweepInterval)

	c := &cfg.Capture
	c.IntervalMinutes = ParseInt(l.key("CAPTURE_INTERVAL_MINUTES"), c.IntervalMinutes)
	c.PerInterval = ParseInt(l.key("CAPTURE_PER_INTERVAL"), c.PerInterval)
	c.MaxUploadRetries = ParseInt(l.key("CAPTURE_MAX_RETRIES"), c.MaxUploadRetries)
	c.RetryBaseDelay = ParseDuration(l.key("CAPTURE_RETRY_BASE_DELAY"), c.RetryBaseDelay)
	c.RetryMaxDelay = ParseDuration(l.key("CAPTURE_RETRY_MAX_DELAY"), c.RetryMaxDelay)
	c.Concurrency = ParseInt(l.key("CAPTURE_CONCURRENCY"), c.Concurrency)
	c.GracePeriod = ParseDuration(l.key("CAPTURE_GRACE_PERIOD"), c.GracePeriod)
	c.StagingDir = ParseString(l.key("CAPTURE_STAGING_DIR"), c.StagingDir)
	c.DBPath = ParseString(l.key("CAPTURE_DB_PATH"), c.DBPath)
	c.Seed = ParseInt64(l.key("CAPTURE_SEED"), c.Seed)
	if cmd := ParseString(l.key("CAPTURE_COMMAND"), ""); cmd != "" {
		c.Command = strings.Fields(cmd)
	}

	ch := &cfg.Channel
	ch.URL = ParseString(l.key("CHANNEL_URL"), ch.URL)
	ch.APIURL = ParseString(l.key("API_URL"), ch.APIURL)
	ch.Token = ParseString(l.key("TOKEN"), ch.Token)
	ch.DeviceID = ParseString(l.key("DEVICE_ID"), ch.DeviceID)
	ch.ReconnectBaseDelay = ParseDuration(l.key("RECONNECT_BASE_DELAY"), ch.ReconnectBaseDelay)
	ch.ReconnectMaxDelay = ParseDuration(l.key("RECONNECT_MAX_DELAY"), ch.ReconnectMaxDelay)
	ch.ReconnectMultiplier = ParseFloat(l.key("RECONNECT_MULTIPLIER"), ch.ReconnectMultiplier)
	ch.ReconnectJitter = ParseFloat(l.key("RECONNECT_JITTER"), ch.ReconnectJitter)
	ch.OutboundQueueCapacity = ParseInt(l.key("OUTBOUND_QUEUE_CAPACITY"), ch.OutboundQueueCapacity)
	ch.AuthTimeout = ParseDuration(l.key("AUTH_TIMEOUT"), ch.AuthTimeout)
	ch.IdleTimeout = ParseDuration(l.key("IDLE_TIMEOUT"), ch.IdleTimeout)
	ch.Seed = ParseInt64(l.key("CHANNEL_SEED"), ch.Seed)

	st := &cfg.Store
	st.Backend = ParseString(l.key("STORE_BACKEND"), st.Backend)
	st.Path = ParseString(l.key("STORE_PATH"), st.Path)
	st.BlobDir = ParseString(l.key("BLOB_DIR"), st.BlobDir)

	b := &cfg.Bus
	b.Backend = ParseString(l.key("BUS_BACKEND"), b.Backend)
	b.RedisAddr = ParseString(l.key("REDIS_ADDR"), b.RedisAddr)
	b.RedisPassword = ParseString(l.key("REDIS_PASSWORD"), b.RedisPassword)
	b.RedisDB = ParseInt(l.key("REDIS_DB"), b.RedisDB)
	b.Prefix = ParseString(l.key("BUS_PREFIX"), b.Prefix)

	a := &cfg.API
	a.ListenAddr = ParseString(l.key("LISTEN_ADDR"), a.ListenAddr)
	a.RateLimitRequests = ParseInt(l.key("RATE_LIMIT_REQUESTS"), a.RateLimitRequests)
	a.RateLimitWindow = ParseDuration(l.key("RATE_LIMIT_WINDOW"), a.RateLimitWindow)
	a.MaxUploadBytes = ParseInt64(l.key("MAX_UPLOAD_BYTES"), a.MaxUploadBytes)
	a.ShutdownTimeout = ParseDuration(l.key("SHUTDOWN_TIMEOUT"), a.ShutdownTimeout)
	// TIMETRACK_API_TOKENS is "token[:owner],..." and replaces the file list.
	if entries := ParseList(l.key("API_TOKENS"), nil); len(entries) > 0 {
		a.Tokens = a.Tokens[:0]
		for _, e := range entries {
			tok, owner, _ := strings.Cut(e, ":")
			a.Tokens = append(a.Tokens, auth.TokenEntry{Token: tok, Owner: owner})
		}
	}

	t := &cfg.Telemetry
	t.Enabled = ParseBool(l.key("TELEMETRY_ENABLED"), t.Enabled)
	t.Exporter = ParseString(l.key("OTLP_EXPORTER"), t.Exporter)
	t.Endpoint = ParseString(l.key("OTLP_ENDPOINT"), t.Endpoint)
	t.SamplingRate = ParseFloat(l.key("TRACE_SAMPLING_RATE"), t.SamplingRate)
}
