// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/timetrack/internal/auth"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", "test-version").Load()
	require.NoError(t, err)

	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, 10, cfg.Capture.IntervalMinutes)
	assert.Equal(t, 2, cfg.Capture.PerInterval)
	assert.Equal(t, 60, cfg.Session.MinSessionDurationSeconds)
	assert.Equal(t, 100, cfg.API.RateLimitRequests)
	assert.Equal(t, 15*time.Minute, cfg.API.RateLimitWindow)
	assert.True(t, filepath.IsAbs(cfg.DataDir))

	sc := cfg.CaptureSettings()
	assert.Equal(t, 10*time.Minute, sc.Interval)
	require.NoError(t, sc.Validate())
	assert.Equal(t, time.Minute, cfg.AuthoritySettings().MinSessionDuration)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
logLevel: debug
dataDir: `+dir+`
capture:
  intervalMinutes: 5
  perInterval: 3
  retryBaseDelay: 2s
  command: ["scrot", "-"]
channel:
  url: wss://tracker.example.com/ws
  reconnectMaxDelay: 1m
api:
  tokens:
    - token: secret
      owner: alice
store:
  backend: badger
`)
	cfg, err := NewLoader(path, "v").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Capture.IntervalMinutes)
	assert.Equal(t, 3, cfg.Capture.PerInterval)
	assert.Equal(t, 2*time.Second, cfg.Capture.RetryBaseDelay)
	assert.Equal(t, []string{"scrot", "-"}, cfg.Capture.Command)
	assert.Equal(t, time.Minute, cfg.Channel.ReconnectMaxDelay)
	assert.Equal(t, []auth.TokenEntry{{Token: "secret", Owner: "alice"}}, cfg.API.Tokens)
	assert.Equal(t, "badger", cfg.Store.Backend)
	// Untouched keys keep defaults.
	assert.Equal(t, 3, cfg.Capture.MaxUploadRetries)
	assert.Equal(t, filepath.Join(dir, "sessions.db"), cfg.Path(cfg.Store.Path, "sessions.db"))
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "capture:\n  screenshotInterval: 5\n")
	_, err := NewLoader(path, "v").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "v").Load()
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "capture:\n  intervalMinutes: 5\n")
	t.Setenv("TIMETRACK_CAPTURE_INTERVAL_MINUTES", "20")
	t.Setenv("TIMETRACK_RECONNECT_JITTER", "0.5")
	t.Setenv("TIMETRACK_TELEMETRY_ENABLED", "yes")
	t.Setenv("TIMETRACK_API_TOKENS", "tok-a:alice, tok-b")
	t.Setenv("TIMETRACK_CAPTURE_PER_INTERVAL", "not-a-number")
	t.Setenv("TIMETRACK_IDLE_TIMEOUT", "45s")

	l := NewLoader(path, "v")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Capture.IntervalMinutes)
	assert.Equal(t, 0.5, cfg.Channel.ReconnectJitter)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, []auth.TokenEntry{{Token: "tok-a", Owner: "alice"}, {Token: "tok-b"}}, cfg.API.Tokens)
	assert.Equal(t, 2, cfg.Capture.PerInterval, "invalid env falls back")
	assert.Equal(t, 45*time.Second, cfg.Channel.IdleTimeout)
	assert.Contains(t, l.ConsumedEnvKeys, "TIMETRACK_CAPTURE_INTERVAL_MINUTES")
}

func TestValidateBounds(t *testing.T) {
	cases := map[string]func(*AppConfig){
		"interval too large":   func(c *AppConfig) { c.Capture.IntervalMinutes = 31 },
		"interval zero":        func(c *AppConfig) { c.Capture.IntervalMinutes = 0 },
		"per interval too big": func(c *AppConfig) { c.Capture.PerInterval = 11 },
		"retry max below base": func(c *AppConfig) { c.Capture.RetryMaxDelay = time.Second },
		"bad channel scheme":   func(c *AppConfig) { c.Channel.URL = "http://x" },
		"jitter above one":     func(c *AppConfig) { c.Channel.ReconnectJitter = 2 },
		"idle timeout zero":    func(c *AppConfig) { c.Channel.IdleTimeout = 0 },
		"unknown backend":      func(c *AppConfig) { c.Store.Backend = "mongo" },
		"redis without addr":   func(c *AppConfig) { c.Bus.Backend = "redis" },
		"bad log level":        func(c *AppConfig) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
	assert.NoError(t, Validate(Default()))
}

func TestSettingsConversions(t *testing.T) {
	cfg := Default()
	cfg.Channel.Seed = 7
	cfg.API.RateLimitRequests = 0

	sup := cfg.SupervisorSettings()
	assert.Equal(t, 100, sup.QueueCapacity)
	assert.Equal(t, 500*time.Millisecond, sup.Backoff.Base)
	require.NotNil(t, sup.Rand)
	assert.Nil(t, cfg.CaptureRand())

	apiCfg := cfg.APISettings()
	assert.Nil(t, apiCfg.RateLimit)
	assert.Empty(t, apiCfg.TracingService)

	tel := cfg.TelemetrySettings("timetrack-daemon")
	assert.Equal(t, "timetrack-daemon", tel.ServiceName)
	assert.False(t, tel.Enabled)
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Channel.Token = "device-secret"
	cfg.Bus.RedisPassword = "hunter2"
	cfg.API.Tokens = []auth.TokenEntry{{Token: "tok-a", Owner: "alice"}, {Token: "tok-b"}}

	out := cfg.Redacted()
	assert.Equal(t, "***", out.Channel.Token)
	assert.Equal(t, "***", out.Bus.RedisPassword)
	require.Len(t, out.API.Tokens, 2)
	assert.Equal(t, "***", out.API.Tokens[0].Token)
	assert.Equal(t, "alice", out.API.Tokens[0].Owner)
	assert.Equal(t, cfg.API.Tokens[1].OwnerID(), out.API.Tokens[1].Owner)
	assert.Equal(t, "tok-a", cfg.API.Tokens[0].Token, "original is untouched")
}

func TestHolderReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "capture:\n  perInterval: 2\n")
	l := NewLoader(path, "v")
	cfg, err := l.Load()
	require.NoError(t, err)

	h := NewHolder(cfg, l)
	h.Debounce = 10 * time.Millisecond
	updates := make(chan AppConfig, 4)
	h.Subscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))
	defer h.Stop()

	require.NoError(t, os.WriteFile(path, []byte("capture:\n  perInterval: 5\n"), 0o600))

	select {
	case got := <-updates:
		assert.Equal(t, 5, got.Capture.PerInterval)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload notification")
	}
	assert.Equal(t, 5, h.Get().Capture.PerInterval)
}

func TestHolderKeepsConfigOnInvalidReload(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "capture:\n  perInterval: 2\n")
	l := NewLoader(path, "v")
	cfg, err := l.Load()
	require.NoError(t, err)
	h := NewHolder(cfg, l)

	require.NoError(t, os.WriteFile(path, []byte("capture:\n  perInterval: 50\n"), 0o600))
	assert.Error(t, h.Reload(context.Background()))
	assert.Equal(t, 2, h.Get().Capture.PerInterval)
}

func TestHolderWithoutFileIsNoop(t *testing.T) {
	h := NewHolder(Default(), NewLoader("", "v"))
	require.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
