// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package mirror keeps an observer's disposable copy of the authority's
// session. Confirmed state only moves forward by version; optimistic local
// changes sit in an overlay until the authority speaks.
package mirror

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/timetrack/internal/channel"
	"github.com/ManuGH/timetrack/internal/domain/session/lifecycle"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/metrics"
	"github.com/ManuGH/timetrack/internal/platform/clock"
)

// Fetcher reads the caller's open session. A nil session means none.
type Fetcher interface {
	GetActive(ctx context.Context) (*model.Session, error)
}

const (
	outcomeApplied = "applied"
	outcomeIgnored = "ignored"
	outcomeResync  = "resync"
)

type Mirror struct {
	fetch Fetcher
	clock clock.Clock
	sf    singleflight.Group

	mu          sync.Mutex
	confirmed   *model.Session
	overlay     *model.Session
	overlayID   string
	connected   bool
	lastCapture *model.CaptureReceipt
	watchers    map[*watcher]struct{}
}

type watcher struct {
	ch chan *model.Session
}

func New(f Fetcher, c clock.Clock) *Mirror {
	if c == nil {
		c = clock.Real{}
	}
	return &Mirror{
		fetch:    f,
		clock:    c,
		watchers: make(map[*watcher]struct{}),
	}
}

// Run feeds envelopes from in to Handle until in closes or ctx ends.
func (m *Mirror) Run(ctx context.Context, in <-chan channel.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			m.Handle(ctx, env)
		}
	}
}

// Handle applies one inbound envelope.
func (m *Mirror) Handle(ctx context.Context, env channel.Envelope) {
	logger := log.WithComponent("mirror")
	switch {
	case env.Type == channel.TypeConnectionStatus:
		var st channel.ConnectionStatus
		if err := env.Decode(&st); err != nil {
			logger.Warn().Err(err).Msg("bad connection status")
			return
		}
		m.mu.Lock()
		m.connected = st.Connected
		m.mu.Unlock()
		if st.Connected {
			if err := m.Reconcile(ctx); err != nil {
				logger.Warn().Err(err).Msg("reconcile after connect failed")
			}
		}

	case env.Type == channel.TypeAck:
		var ack channel.Ack
		if err := env.Decode(&ack); err != nil {
			logger.Warn().Err(err).Msg("bad ack")
			return
		}
		if !ack.OK {
			logger.Info().Str(log.FieldActionID, ack.ActionID).Str("code", ack.Code).Str("error", ack.Error).Msg("action rejected, resyncing")
			m.dropOverlay()
			m.resync(ctx)
			return
		}
		if ack.Session != nil {
			m.applyConfirmed(ctx, ack.Session)
		}

	case env.Type.IsSessionTransition():
		s, err := env.Session()
		if err != nil {
			logger.Warn().Err(err).Str("type", string(env.Type)).Msg("bad session payload")
			m.resync(ctx)
			return
		}
		m.applyConfirmed(ctx, s)

	case env.Type == channel.TypeCaptureDelivered:
		var r model.CaptureReceipt
		if err := env.Decode(&r); err != nil {
			return
		}
		m.mu.Lock()
		m.lastCapture = &r
		m.mu.Unlock()
	}
}

// applyConfirmed runs the version rules for an authoritative snapshot.
func (m *Mirror) applyConfirmed(ctx context.Context, s *model.Session) {
	m.mu.Lock()
	cached := m.confirmed
	var expected int64
	switch {
	case cached == nil || cached.ID != s.ID:
		// A different session can only be joined at its start.
		expected = 0
	default:
		expected = cached.Version + 1
	}

	switch {
	case cached != nil && cached.ID == s.ID && s.Version <= cached.Version:
		m.mu.Unlock()
		metrics.RecordMirrorEvent(outcomeIgnored)
		return
	case s.Version == expected:
		m.confirmed = s.Clone()
		m.overlay = nil
		m.overlayID = ""
		m.notifyLocked()
		m.mu.Unlock()
		metrics.RecordMirrorEvent(outcomeApplied)
		return
	default:
		m.confirmed = nil
		m.mu.Unlock()
		logger := log.WithComponent("mirror")
		logger.Info().Str(log.FieldSessionID, s.ID).Int64(log.FieldVersion, s.Version).Int64("expected", expected).Msg("version gap, resyncing")
		m.resync(ctx)
	}
}

// Reconcile replaces the cached copy with the authority's current state and
// discards any optimistic overlay.
func (m *Mirror) Reconcile(ctx context.Context) error {
	v, err, _ := m.sf.Do("active", func() (any, error) {
		return m.fetch.GetActive(ctx)
	})
	if err != nil {
		return err
	}
	s, _ := v.(*model.Session)

	m.mu.Lock()
	m.confirmed = s.Clone()
	m.overlay = nil
	m.overlayID = ""
	m.notifyLocked()
	m.mu.Unlock()
	metrics.RecordMirrorEvent(outcomeResync)
	return nil
}

func (m *Mirror) resync(ctx context.Context) {
	if err := m.Reconcile(ctx); err != nil {
		logger := log.WithComponent("mirror")
		logger.Warn().Err(err).Msg("resync failed")
	}
}

// ApplyOptimistic records the provisional result of a. It fails when the
// action is not legal from the current view, in which case nothing changes.
func (m *Mirror) ApplyOptimistic(a channel.Action) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	base := m.currentLocked()
	var next *model.Session
	switch a.Kind {
	case channel.ActionStart:
		if base != nil && !base.State.IsTerminal() {
			return nil, model.Conflict("mirror.start", "session %s is still %s", base.ID, base.State)
		}
		next = lifecycle.NewSession("", model.StartRequest{
			ProjectID:   a.ProjectID,
			Description: a.Description,
			DeviceID:    a.DeviceID,
		}, now)
	case channel.ActionPause, channel.ActionResume, channel.ActionStop:
		if base == nil {
			return nil, model.NotFound("mirror."+string(a.Kind), "no session")
		}
		next = base.Clone()
		if err := lifecycle.Apply(next, lifecycle.Action(a.Kind), now); err != nil {
			return nil, err
		}
	default:
		return nil, model.Validation("mirror", "unknown action kind %q", a.Kind)
	}

	m.overlay = next
	m.overlayID = a.ID
	m.notifyLocked()
	return next.Clone(), nil
}

func (m *Mirror) dropOverlay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlay == nil {
		return
	}
	m.overlay = nil
	m.overlayID = ""
	m.notifyLocked()
}

func (m *Mirror) currentLocked() *model.Session {
	if m.overlay != nil {
		return m.overlay
	}
	return m.confirmed
}

// Current returns the optimistic view when one is pending, else the
// confirmed copy. Nil means no session.
func (m *Mirror) Current() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked().Clone()
}

// Confirmed returns the last authoritative snapshot.
func (m *Mirror) Confirmed() *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed.Clone()
}

// Pending reports the id of the action behind the overlay, if any.
func (m *Mirror) Pending() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlayID, m.overlay != nil
}

func (m *Mirror) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Mirror) LastCapture() *model.CaptureReceipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastCapture == nil {
		return nil
	}
	r := *m.lastCapture
	return &r
}

// Elapsed is the tracked duration of the current view at the clock's now.
func (m *Mirror) Elapsed() time.Duration {
	cur := m.Current()
	if cur == nil {
		return 0
	}
	return cur.Elapsed(m.clock.Now())
}

// Watch delivers the current view now and after every change. Slow readers
// only see the latest value. cancel releases the watcher.
func (m *Mirror) Watch() (<-chan *model.Session, func()) {
	w := &watcher{ch: make(chan *model.Session, 1)}
	m.mu.Lock()
	m.watchers[w] = struct{}{}
	w.ch <- m.currentLocked().Clone()
	m.mu.Unlock()

	var once sync.Once
	return w.ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, w)
			m.mu.Unlock()
		})
	}
}

func (m *Mirror) notifyLocked() {
	cur := m.currentLocked()
	for w := range m.watchers {
		select {
		case <-w.ch:
		default:
		}
		w.ch <- cur.Clone()
	}
}
