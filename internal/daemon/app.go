// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon wires the session authority, its storage, the event bus and
// the HTTP API into one process with ordered graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/timetrack/internal/api"
	"github.com/ManuGH/timetrack/internal/auth"
	"github.com/ManuGH/timetrack/internal/blob"
	"github.com/ManuGH/timetrack/internal/bus"
	"github.com/ManuGH/timetrack/internal/channel"
	"github.com/ManuGH/timetrack/internal/config"
	"github.com/ManuGH/timetrack/internal/domain/session/authority"
	"github.com/ManuGH/timetrack/internal/domain/session/store"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/persistence/sqlite"
	"github.com/ManuGH/timetrack/internal/platform/clock"
	"github.com/ManuGH/timetrack/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ServiceName is used for logs and traces.
const ServiceName = "timetrack-daemon"

const busBuffer = 64

// App is a fully wired daemon.
type App struct {
	holder    *config.Holder
	manager   *Manager
	sweeper   *authority.Sweeper
	api       *api.Server
	logOutput io.Writer
	logger    zerolog.Logger

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Option customises New.
type Option func(*options)

type options struct {
	clock     clock.Clock
	logOutput io.Writer
}

// WithClock overrides the clock used by the authority and the API.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogOutput redirects logs, including after config reloads.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// New builds every component described by the holder's current config.
// Anything opened before a failure is closed again.
func New(ctx context.Context, holder *config.Holder, opts ...Option) (app *App, err error) {
	o := options{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := holder.Get()

	logCfg := cfg.LogSettings()
	logCfg.Output = o.logOutput
	if logCfg.Service == "" {
		logCfg.Service = ServiceName
	}
	log.Configure(logCfg)
	logger := log.WithComponent("daemon")

	srv := &http.Server{
		Addr:              cfg.API.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	mgr, err := NewManager(srv, cfg.API.ShutdownTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if cErr := mgr.abort(context.WithoutCancel(ctx)); cErr != nil {
				logger.Warn().Err(cErr).Msg("cleanup after failed start")
			}
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, cfg.TelemetrySettings(ServiceName))
	if err != nil {
		// Tracing is optional; the daemon keeps running without it.
		logger.Warn().Err(err).Msg("Telemetry initialization failed, continuing without tracing")
	} else {
		mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	}

	b, err := openBus(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := b.(io.Closer); ok {
		mgr.RegisterShutdownHook("bus", func(context.Context) error { return c.Close() })
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	mgr.RegisterShutdownHook("session_store", func(context.Context) error { return st.Close() })

	sessions := authority.New(st, b, cfg.AuthoritySettings(), authority.WithClock(o.clock))
	mgr.RegisterShutdownHook("authority", sessions.Close)

	blobs, err := blob.NewFSStore(cfg.Path(cfg.Store.BlobDir, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	verifier := auth.NewStaticTokens(cfg.API.Tokens)
	if verifier.Len() == 0 {
		logger.Warn().Msg("no API tokens configured, every request will be rejected")
	}

	hub := channel.NewHub(b, verifier, sessions, channel.HubConfig{})
	mgr.RegisterShutdownHook("event_hub", hub.Close)

	server := api.New(cfg.APISettings(), api.Deps{
		Sessions: sessions,
		Blobs:    blobs,
		Verifier: verifier,
		Hub:      hub,
		Clock:    o.clock,
	})
	srv.Handler = server

	app = &App{
		holder:    holder,
		manager:   mgr,
		sweeper:   &authority.Sweeper{Auth: sessions, Conf: cfg.SweeperSettings(), Clock: o.clock},
		api:       server,
		logOutput: o.logOutput,
		logger:    logger,
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	// Registered last so it runs first: no sweep may touch a closing store.
	mgr.RegisterShutdownHook("sweeper", app.stopSweeper)

	logger.Info().
		Str("version", cfg.Version).
		Str("listen", cfg.API.ListenAddr).
		Str("store", cfg.Store.Backend).
		Str("bus", cfg.Bus.Backend).
		Int("tokens", verifier.Len()).
		Msg("daemon initialised")
	return app, nil
}

func openBus(ctx context.Context, cfg config.AppConfig) (bus.Bus, error) {
	switch cfg.Bus.Backend {
	case "", "memory":
		return bus.NewMemoryBus(busBuffer), nil
	case "redis":
		rc := cfg.RedisSettings()
		rc.Buffer = busBuffer
		b, err := bus.NewRedisBus(ctx, rc, log.WithComponent("bus"))
		if err != nil {
			return nil, fmt.Errorf("connect redis bus: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown bus backend: %s", cfg.Bus.Backend)
	}
}

func openStore(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (store.SessionStore, error) {
	backend := cfg.Store.Backend
	if backend == "" {
		backend = store.BackendSqlite
	}
	path := ""
	if backend != store.BackendMemory {
		path = cfg.Path(cfg.Store.Path, store.DefaultFileName(backend))
	}

	if backend == store.BackendSqlite {
		if _, err := os.Stat(path); err == nil {
			rows, err := sqlite.VerifyIntegrity(ctx, path, "quick")
			if err != nil {
				return nil, err
			}
			if rows != nil {
				return nil, fmt.Errorf("%w: %s", ErrStoreIntegrity, strings.Join(rows, "; "))
			}
		}
	}

	st, err := store.OpenSessionStore(backend, path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	logger.Info().Str("backend", backend).Str("path", path).Msg("session store opened")
	return st, nil
}

// Handler exposes the API for in-process callers.
func (a *App) Handler() http.Handler { return a.api }

// Ready is closed once the API listener is bound.
func (a *App) Ready() <-chan struct{} { return a.manager.Ready() }

// Addr returns the bound API address.
func (a *App) Addr() string { return a.manager.Addr() }

// Run serves until ctx is done, then shuts everything down. SIGHUP and
// edits to the config file trigger a reload.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := a.holder.StartWatcher(gctx); err != nil {
		a.logger.Warn().Err(err).Msg("config watcher unavailable, continuing without hot reload")
	}
	defer a.holder.Stop()

	updates := make(chan config.AppConfig, 1)
	a.holder.Subscribe(updates)

	go func() {
		defer close(a.sweepDone)
		sctx, cancel := context.WithCancel(gctx)
		defer cancel()
		go func() {
			select {
			case <-a.sweepStop:
				cancel()
			case <-sctx.Done():
			}
		}()
		a.sweeper.Run(sctx)
	}()

	g.Go(func() error {
		a.reloadOnSignal(gctx)
		return nil
	})
	g.Go(func() error {
		a.applyUpdates(gctx, updates)
		return nil
	})
	g.Go(func() error {
		return a.manager.Start(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) stopSweeper(ctx context.Context) error {
	select {
	case <-a.sweepStop:
	default:
		close(a.sweepStop)
	}
	select {
	case <-a.sweepDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) reloadOnSignal(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			a.logger.Info().Str(log.FieldEvent, "config.sighup").Msg("reloading configuration")
			if err := a.holder.Reload(ctx); err != nil {
				a.logger.Error().Err(err).Msg("config reload failed, keeping previous configuration")
			}
		}
	}
}

// applyUpdates carries hot-reloadable settings into the running process.
// Listen address, storage and bus changes need a restart.
func (a *App) applyUpdates(ctx context.Context, updates <-chan config.AppConfig) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			logCfg := cfg.LogSettings()
			logCfg.Output = a.logOutput
			if logCfg.Service == "" {
				logCfg.Service = ServiceName
			}
			log.Configure(logCfg)
			logger := log.WithComponent("daemon")
			logger.Info().
				Str(log.FieldEvent, "config.applied").
				Str("log_level", cfg.LogLevel).
				Msg("configuration reloaded")
		}
	}
}

// WaitForShutdown returns a context cancelled on interrupt or termination.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
