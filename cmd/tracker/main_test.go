// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/timetrack/internal/auth"
	"github.com/ManuGH/timetrack/internal/config"
	"github.com/ManuGH/timetrack/internal/daemon"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/observer"
)

func startDaemon(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Store.Backend = "memory"
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.API.Tokens = []auth.TokenEntry{{Token: "tok", Owner: "alice"}}
	cfg.API.ShutdownTimeout = 2 * time.Second

	app, err := daemon.New(context.Background(), config.NewHolder(cfg, config.NewLoader("", "test")), daemon.WithLogOutput(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	<-app.Ready()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return "http://" + app.Addr()
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_SessionCommands(t *testing.T) {
	url := startDaemon(t)
	common := []string{"--api-url", url, "--token", "tok", "--log-level", "error"}

	out, err := runCLI(t, append(common, "status")...)
	require.NoError(t, err)
	assert.Contains(t, out, "no open session")

	out, err = runCLI(t, append(common, "start", "proj-9", "-d", "writing docs")...)
	require.NoError(t, err)
	assert.Contains(t, out, "state    ACTIVE")
	assert.Contains(t, out, "project  proj-9")

	out, err = runCLI(t, append(common, "pause")...)
	require.NoError(t, err)
	assert.Contains(t, out, "state    PAUSED")

	_, err = runCLI(t, append(common, "pause")...)
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidTransition, model.KindOf(err))

	out, err = runCLI(t, append(common, "stop")...)
	require.NoError(t, err)
	assert.Contains(t, out, "state    STOPPED")

	_, err = runCLI(t, append(common, "resume")...)
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestCLI_RejectsBadToken(t *testing.T) {
	url := startDaemon(t)
	_, err := runCLI(t, "--api-url", url, "--token", "wrong", "--log-level", "error", "status")
	require.Error(t, err)
	assert.Equal(t, model.KindAuth, model.KindOf(err))
}

func TestPrintSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	since := now.Add(-90 * time.Second)
	s := &model.Session{
		ID:          "s1",
		ProjectID:   "p1",
		State:       model.StateActive,
		StartedAt:   since,
		ActiveSince: &since,
		Version:     1,
	}
	var buf bytes.Buffer
	printSession(&buf, s, now)
	assert.Contains(t, buf.String(), "elapsed  1m30s")
	assert.Contains(t, buf.String(), "version  1")

	buf.Reset()
	printSession(&buf, nil, now)
	assert.Equal(t, "no open session\n", buf.String())
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, observer.Status{})
	assert.Equal(t, "[offline] no open session\n", buf.String())

	buf.Reset()
	printStatus(&buf, observer.Status{
		Connected:   true,
		Unconfirmed: true,
		Session:     &model.Session{State: model.StatePaused, ProjectID: "p1"},
		Elapsed:     2 * time.Minute,
	})
	assert.Equal(t, "[online] PAUSED p1 (pending) elapsed=2m0s capturing=false queued=0\n", buf.String())
}

func TestExecuteRejectsUnknownCommand(t *testing.T) {
	var buf bytes.Buffer
	err := execute(context.Background(), nil, []string{"dance"}, &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")

	err = execute(context.Background(), nil, []string{"start"}, &buf)
	require.Error(t, err)
}
