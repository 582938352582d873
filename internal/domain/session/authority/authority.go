// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package authority owns the canonical session record. It validates and
// persists lifecycle transitions and hands accepted changes to an async
// broadcaster so observers never sit on the mutation path.
package authority

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/timetrack/internal/bus"
	"github.com/ManuGH/timetrack/internal/domain/session/lifecycle"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/domain/session/store"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/metrics"
	"github.com/ManuGH/timetrack/internal/platform/clock"
	"github.com/ManuGH/timetrack/internal/telemetry"
)

const (
	maxDescriptionLen = 1024
	maxProjectIDLen   = 128
	ownerStripes      = 64
)

// Config tunes authority behavior.
type Config struct {
	// MinSessionDuration flags stopped sessions below it as short. The
	// record is kept either way.
	MinSessionDuration time.Duration
	// BroadcastBuffer bounds the async broadcast queue.
	BroadcastBuffer int
}

func DefaultConfig() Config {
	return Config{
		MinSessionDuration: 60 * time.Second,
		BroadcastBuffer:    1024,
	}
}

// Authority is safe for concurrent use.
type Authority struct {
	store  store.SessionStore
	clock  clock.Clock
	newID  func() string
	cfg    Config
	bc     *broadcaster
	tracer trace.Tracer

	// Striped per-owner locks order the hand-off to the broadcaster with the
	// store commit. Conflicts are still detected by version, not by locking.
	stripes [ownerStripes]sync.Mutex
}

type Option func(*Authority)

func WithClock(c clock.Clock) Option {
	return func(a *Authority) { a.clock = c }
}

func WithIDGenerator(fn func() string) Option {
	return func(a *Authority) { a.newID = fn }
}

// New wires an authority over st, publishing accepted changes to b.
func New(st store.SessionStore, b bus.Bus, cfg Config, opts ...Option) *Authority {
	if cfg.BroadcastBuffer <= 0 {
		cfg.BroadcastBuffer = DefaultConfig().BroadcastBuffer
	}
	a := &Authority{
		store:  st,
		clock:  clock.Real{},
		newID:  uuid.NewString,
		cfg:    cfg,
		tracer: telemetry.Tracer("timetrack.authority"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.bc = newBroadcaster(b, cfg.BroadcastBuffer)
	return a
}

func (a *Authority) ownerLock(owner string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(owner))
	return &a.stripes[h.Sum32()%ownerStripes]
}

// Start creates an Active session at version 0.
func (a *Authority) Start(ctx context.Context, req model.StartRequest) (sess *model.Session, err error) {
	ctx, span := a.tracer.Start(ctx, "authority.start")
	defer func() { endSpan(span, "start", sess, err) }()

	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if err := validateStart(req); err != nil {
		return nil, err
	}

	mu := a.ownerLock(req.OwnerID)
	mu.Lock()
	defer mu.Unlock()

	now := a.clock.Now().UTC()
	rec := lifecycle.NewSession(a.newID(), req, now)
	if err := a.store.CreateSession(ctx, rec); err != nil {
		return nil, err
	}

	a.bc.enqueue(eventFor(model.EventSessionStarted, rec, now))
	logger := a.logger(ctx, rec)
	logger.Info().
		Str("project_id", rec.ProjectID).
		Str("device_id", rec.DeviceID).
		Msg("session started")
	return rec, nil
}

func validateStart(req model.StartRequest) error {
	if req.OwnerID == "" {
		return model.Validation("start", "owner id is required")
	}
	if len(req.ProjectID) > maxProjectIDLen {
		return model.Validation("start", "project id exceeds %d bytes", maxProjectIDLen)
	}
	if len(req.Description) > maxDescriptionLen {
		return model.Validation("start", "description exceeds %d bytes", maxDescriptionLen)
	}
	return nil
}

// Pause is valid only from Active.
func (a *Authority) Pause(ctx context.Context, owner, sessionID string, expectedVersion int64) (*model.Session, error) {
	return a.transition(ctx, lifecycle.ActionPause, owner, sessionID, expectedVersion)
}

// Resume is valid only from Paused.
func (a *Authority) Resume(ctx context.Context, owner, sessionID string, expectedVersion int64) (*model.Session, error) {
	return a.transition(ctx, lifecycle.ActionResume, owner, sessionID, expectedVersion)
}

// Stop is valid from Active or Paused. Repeating it with the final version
// of an already stopped session succeeds without change.
func (a *Authority) Stop(ctx context.Context, owner, sessionID string, expectedVersion int64) (*model.Session, error) {
	return a.transition(ctx, lifecycle.ActionStop, owner, sessionID, expectedVersion)
}

var errAlreadyStopped = errors.New("already stopped")

func (a *Authority) transition(ctx context.Context, action lifecycle.Action, owner, sessionID string, expected int64) (sess *model.Session, err error) {
	ctx, span := a.tracer.Start(ctx, "authority."+string(action))
	defer func() { endSpan(span, string(action), sess, err) }()

	op := string(action)
	if sessionID == "" {
		return nil, model.Validation(op, "session id is required")
	}
	if expected < 0 {
		return nil, model.Validation(op, "expected version must be >= 0")
	}

	// Lock by the record's owner; the caller-supplied owner may be empty for
	// system callers such as the sweeper.
	lockOwner := owner
	if lockOwner == "" {
		cur, err := a.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if cur == nil {
			return nil, model.NotFound(op, "session %q", sessionID)
		}
		lockOwner = cur.OwnerID
	}
	mu := a.ownerLock(lockOwner)
	mu.Lock()
	defer mu.Unlock()

	var prev model.State
	var now time.Time
	var snapshot *model.Session
	updated, err := a.store.UpdateSession(ctx, sessionID, func(rec *model.Session) error {
		if owner != "" && rec.OwnerID != owner {
			return model.NotFound(op, "session %q", sessionID)
		}
		if rec.Version != expected {
			return model.Conflict(op, "expected version %d, current version %d", expected, rec.Version)
		}
		if action == lifecycle.ActionStop && rec.State == model.StateStopped {
			snapshot = rec.Clone()
			return errAlreadyStopped
		}
		prev = rec.State
		now = a.clock.Now().UTC()
		return lifecycle.Apply(rec, action, now)
	})
	if errors.Is(err, errAlreadyStopped) {
		return snapshot, nil
	}
	if err != nil {
		return nil, err
	}

	a.bc.enqueue(eventFor(model.EventForState(prev, updated.State), updated, now))

	logger := a.logger(ctx, updated)
	logger.Info().
		Str(log.FieldOldState, string(prev)).
		Str(log.FieldNewState, string(updated.State)).
		Int64(log.FieldVersion, updated.Version).
		Int64("accumulated_ms", updated.AccumulatedMs).
		Msg("session transition")

	if updated.State == model.StateStopped {
		short := updated.IsShort(a.cfg.MinSessionDuration)
		metrics.RecordSessionStopped(updated.Accumulated().Seconds(), short)
		if short {
			logger.Warn().
				Dur("accumulated", updated.Accumulated()).
				Dur("min", a.cfg.MinSessionDuration).
				Msg("stopped session is below minimum duration")
		}
	}
	return updated, nil
}

// GetActive returns the owner's non-stopped session, or nil when none.
func (a *Authority) GetActive(ctx context.Context, owner string) (*model.Session, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, model.Validation("get_active", "owner id is required")
	}
	return a.store.GetActive(ctx, owner)
}

// Get returns one of the owner's sessions.
func (a *Authority) Get(ctx context.Context, owner, sessionID string) (*model.Session, error) {
	rec, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil || (owner != "" && rec.OwnerID != owner) {
		return nil, model.NotFound("get", "session %q", sessionID)
	}
	return rec, nil
}

// AcceptCapture checks that a capture taken at capturedAt may be attached
// to the session: it must exist, belong to owner, and the timestamp must
// lie within [start, end-or-now].
func (a *Authority) AcceptCapture(ctx context.Context, owner, sessionID string, capturedAt time.Time) (*model.Session, error) {
	rec, err := a.Get(ctx, owner, sessionID)
	if err != nil {
		return nil, err
	}
	if !rec.Covers(capturedAt, a.clock.Now()) {
		return nil, model.Validation("capture", "capturedAt %s outside session window", capturedAt.UTC().Format(time.RFC3339))
	}
	return rec, nil
}

// NotifyCaptureDelivered announces a stored capture to the owner's observers.
func (a *Authority) NotifyCaptureDelivered(ctx context.Context, owner string, receipt model.CaptureReceipt) {
	rec, err := a.store.GetSession(ctx, receipt.SessionID)
	if err != nil || rec == nil {
		log.FromContext(ctx).Warn().Err(err).
			Str(log.FieldSessionID, receipt.SessionID).
			Msg("capture receipt for unknown session not broadcast")
		return
	}
	if owner == "" {
		owner = rec.OwnerID
	}
	r := receipt
	a.bc.enqueue(model.Event{
		Type:      model.EventCaptureDelivered,
		OwnerID:   owner,
		SessionID: rec.ID,
		Version:   rec.Version,
		Capture:   &r,
		At:        a.clock.Now().UTC(),
	})
}

// Close drains the broadcaster within ctx.
func (a *Authority) Close(ctx context.Context) error {
	return a.bc.close(ctx)
}

func (a *Authority) logger(ctx context.Context, rec *model.Session) zerolog.Logger {
	return log.WithComponentFromContext(ctx, "authority").With().
		Str(log.FieldSessionID, rec.ID).
		Str(log.FieldOwnerID, rec.OwnerID).
		Logger()
}

func eventFor(t model.EventType, rec *model.Session, at time.Time) model.Event {
	return model.Event{
		Type:      t,
		OwnerID:   rec.OwnerID,
		SessionID: rec.ID,
		Version:   rec.Version,
		Session:   rec.Clone(),
		At:        at,
	}
}

func endSpan(span trace.Span, action string, sess *model.Session, err error) {
	defer span.End()
	if sess != nil {
		span.SetAttributes(telemetry.SessionAttributes(sess.ID, string(sess.State), sess.Version)...)
	}
	if err != nil {
		kind := string(model.KindOf(err))
		metrics.RecordTransition(action, strings.ToLower(kind))
		span.SetAttributes(telemetry.ErrorAttributes(kind)...)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	metrics.RecordTransition(action, "ok")
	span.SetStatus(codes.Ok, "")
}
