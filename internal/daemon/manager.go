// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/timetrack/internal/log"
	"github.com/rs/zerolog"
)

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager owns the HTTP server and the ordered teardown of everything
// registered behind it.
type Manager struct {
	server          *http.Server
	shutdownTimeout time.Duration

	mu       sync.Mutex
	hooks    []namedHook
	started  bool
	stopping bool
	addr     string
	ready    chan struct{}

	logger zerolog.Logger
}

// NewManager wraps srv. A non-positive timeout means 10s.
func NewManager(srv *http.Server, shutdownTimeout time.Duration) (*Manager, error) {
	if srv == nil {
		return nil, ErrMissingServer
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Manager{
		server:          srv,
		shutdownTimeout: shutdownTimeout,
		ready:           make(chan struct{}),
		logger:          log.WithComponent("manager"),
	}, nil
}

// Ready is closed once the listener is bound.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Addr returns the bound listen address, empty before Ready.
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Start binds the listener, serves until ctx is done or the server fails,
// then shuts down. A clean shutdown returns nil.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	m.mu.Unlock()

	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		_ = m.Shutdown(ctx)
		return fmt.Errorf("listen %s: %w", m.server.Addr, err)
	}
	m.mu.Lock()
	m.addr = ln.Addr().String()
	m.mu.Unlock()
	close(m.ready)

	errChan := make(chan error, 1)
	go func() {
		m.logger.Info().
			Str(log.FieldEvent, "api.listening").
			Str("addr", ln.Addr().String()).
			Msg("HTTP server listening")
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("HTTP server failed")
		if sErr := m.Shutdown(ctx); sErr != nil {
			return errors.Join(err, sErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown requested")
		return m.Shutdown(ctx)
	}
}

// Shutdown stops the server, then runs the hooks newest first. It runs at
// most once; later calls return nil.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	// The caller's ctx is usually the one that was just cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout)
	defer cancel()

	start := time.Now()
	var errs []error
	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error().Err(err).Msg("HTTP server shutdown error")
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	errs = append(errs, runHooks(shutdownCtx, hooks, m.logger)...)

	m.logger.Info().
		Dur("duration", time.Since(start)).
		Int("errors", len(errs)).
		Msg("shutdown complete")
	return errors.Join(errs...)
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("Registered shutdown hook")
}

// abort runs the registered hooks without a server, for failed builds.
func (m *Manager) abort(ctx context.Context) error {
	m.mu.Lock()
	hooks := m.hooks
	m.hooks = nil
	m.mu.Unlock()
	return errors.Join(runHooks(ctx, hooks, m.logger)...)
}

func runHooks(ctx context.Context, hooks []namedHook, logger zerolog.Logger) []error {
	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		hookStart := time.Now()
		if err := h.hook(ctx); err != nil {
			logger.Error().
				Err(err).
				Str("hook", h.name).
				Dur("duration", time.Since(hookStart)).
				Msg("Shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		logger.Debug().
			Str("hook", h.name).
			Dur("duration", time.Since(hookStart)).
			Msg("Shutdown hook completed")
	}
	return errs
}
