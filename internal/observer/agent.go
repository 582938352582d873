// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package observer runs the tracker side: it keeps the event channel up,
// mirrors the owner's session and drives captures from the mirrored state.
package observer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/timetrack/internal/capture"
	"github.com/ManuGH/timetrack/internal/channel"
	"github.com/ManuGH/timetrack/internal/config"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/mirror"
)

// Agent composes the supervisor, mirror and scheduler of one observer.
type Agent struct {
	sup      *channel.Supervisor
	mirror   *mirror.Mirror
	sched    *capture.Scheduler
	deviceID string
	updates  <-chan config.AppConfig
	newID    func() string
	shutdown time.Duration
	logger   zerolog.Logger
}

type Option func(*Agent)

// WithConfigUpdates re-applies capture settings from reloaded configs.
func WithConfigUpdates(ch <-chan config.AppConfig) Option {
	return func(a *Agent) { a.updates = ch }
}

func WithDeviceID(id string) Option {
	return func(a *Agent) { a.deviceID = id }
}

func WithIDGenerator(fn func() string) Option {
	return func(a *Agent) { a.newID = fn }
}

// WithShutdownTimeout bounds how long Run waits for deliveries on exit.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *Agent) { a.shutdown = d }
}

func New(sup *channel.Supervisor, m *mirror.Mirror, sched *capture.Scheduler, opts ...Option) *Agent {
	a := &Agent{
		sup:      sup,
		mirror:   m,
		sched:    sched,
		newID:    uuid.NewString,
		shutdown: 15 * time.Second,
		logger:   log.WithComponent("observer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run blocks until ctx is cancelled or the channel gives up on
// authentication. Captures in flight get the scheduler's grace period.
func (a *Agent) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.sup.Run(gctx)
	})
	g.Go(func() error {
		a.mirror.Run(gctx, a.sup.Inbound())
		return nil
	})

	views, cancelWatch := a.mirror.Watch()
	g.Go(func() error {
		defer cancelWatch()
		a.sched.Run(gctx, views)
		return nil
	})
	g.Go(func() error {
		a.drainWarnings(gctx)
		return nil
	})
	if a.updates != nil {
		g.Go(func() error {
			a.applyConfigUpdates(gctx)
			return nil
		})
	}

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdown)
	defer cancel()
	if cerr := a.sched.Close(closeCtx); cerr != nil {
		a.logger.Warn().Err(cerr).Msg("capture deliveries did not finish before shutdown")
	}
	return err
}

func (a *Agent) drainWarnings(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-a.sched.Warnings():
			a.logger.Warn().
				Err(w.Err).
				Str(log.FieldEvent, "capture.failed").
				Str(log.FieldSessionID, w.SessionID).
				Str(log.FieldCaptureID, w.CaptureID).
				Str("kind", string(w.Kind)).
				Msg("capture failed, tracking continues")
		}
	}
}

func (a *Agent) applyConfigUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.updates:
			if !ok {
				return
			}
			if err := a.sched.SetConfig(cfg.CaptureSettings()); err != nil {
				a.logger.Warn().Err(err).Msg("reloaded capture settings rejected")
				continue
			}
			a.logger.Info().
				Int("interval_minutes", cfg.Capture.IntervalMinutes).
				Int("per_interval", cfg.Capture.PerInterval).
				Msg("capture settings updated, effective from next interval")
		}
	}
}

// Start requests a new session. The mirror shows it at once; the
// authority's answer confirms or reverts it.
func (a *Agent) Start(ctx context.Context, projectID, description string) (*model.Session, error) {
	return a.submit(ctx, channel.Action{
		Kind:        channel.ActionStart,
		ProjectID:   projectID,
		Description: description,
		DeviceID:    a.deviceID,
	})
}

func (a *Agent) Pause(ctx context.Context) (*model.Session, error) {
	return a.transition(ctx, channel.ActionPause)
}

func (a *Agent) Resume(ctx context.Context) (*model.Session, error) {
	return a.transition(ctx, channel.ActionResume)
}

func (a *Agent) Stop(ctx context.Context) (*model.Session, error) {
	return a.transition(ctx, channel.ActionStop)
}

func (a *Agent) transition(ctx context.Context, kind channel.ActionKind) (*model.Session, error) {
	cur := a.mirror.Current()
	if cur == nil {
		return nil, model.NotFound("observer."+string(kind), "no session")
	}
	if cur.ID == "" {
		return nil, model.Conflict("observer."+string(kind), "session start not yet confirmed")
	}
	return a.submit(ctx, channel.Action{
		Kind:            kind,
		SessionID:       cur.ID,
		ExpectedVersion: cur.Version,
	})
}

func (a *Agent) submit(ctx context.Context, act channel.Action) (*model.Session, error) {
	act.ID = a.newID()
	view, err := a.mirror.ApplyOptimistic(act)
	if err != nil {
		return nil, err
	}
	if err := a.sup.Send(ctx, act); err != nil {
		var overflow *channel.OverflowError
		if !errors.As(err, &overflow) {
			return nil, err
		}
		a.logger.Warn().
			Str(log.FieldActionID, overflow.Dropped.ID).
			Msg("oldest unconfirmed action dropped")
	}
	return view, nil
}

// Status is a point-in-time view for display.
type Status struct {
	Session      *model.Session
	Elapsed      time.Duration
	Connected    bool
	Channel      channel.State
	Owner        string
	PendingSends int
	Unconfirmed  bool
	LastCapture  *model.CaptureReceipt
	Capturing    bool
}

func (a *Agent) Status() Status {
	_, unconfirmed := a.mirror.Pending()
	_, paused, ok := a.sched.Active()
	return Status{
		Session:      a.mirror.Current(),
		Elapsed:      a.mirror.Elapsed(),
		Connected:    a.mirror.Connected(),
		Channel:      a.sup.State(),
		Owner:        a.sup.Owner(),
		PendingSends: a.sup.Pending(),
		Unconfirmed:  unconfirmed,
		LastCapture:  a.mirror.LastCapture(),
		Capturing:    ok && !paused,
	}
}

// Watch exposes the mirror's latest-value feed.
func (a *Agent) Watch() (<-chan *model.Session, func()) {
	return a.mirror.Watch()
}
