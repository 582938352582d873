// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/metrics"
	"github.com/ManuGH/timetrack/internal/platform/clock"
	"github.com/ManuGH/timetrack/internal/platform/task"
	"github.com/ManuGH/timetrack/internal/resilience"
)

const metaContentType = "contentType"

var errCancelled = errors.New("delivery cancelled after session stop")

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithRand seeds slot placement.
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

func WithSealer(sl Sealer) Option {
	return func(s *Scheduler) { s.sealer = sl }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) { s.newID = fn }
}

// Scheduler fires captures at random slots while a session is active and
// delivers them with bounded retries. It follows one session at a time.
type Scheduler struct {
	capturer Capturer
	sealer   Sealer
	stager   Stager
	uploader Uploader
	store    Store
	clock    clock.Clock
	newID    func() string
	sem      *semaphore.Weighted
	warnings chan Warning
	workers  task.Registry
	logger   zerolog.Logger

	mu     sync.Mutex
	cfg    Config
	rng    *rand.Rand
	run    *run
	closed bool
}

// run is the per-session scheduling state.
type run struct {
	sessionID string
	slots     *task.Group
	retries   *task.Group
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	grace     clock.Timer
	expired   sync.Once
	paused    bool
	stopped   bool
	window    int
}

func NewScheduler(cfg Config, capturer Capturer, stager Stager, uploader Uploader, st Store, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		capturer: capturer,
		stager:   stager,
		uploader: uploader,
		store:    st,
		clock:    clock.Real{},
		newID:    uuid.NewString,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		warnings: make(chan Warning, 32),
		logger:   log.WithComponent("capture"),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s, nil
}

// Warnings reports failed captures. Unread warnings are dropped once the
// buffer is full.
func (s *Scheduler) Warnings() <-chan Warning { return s.warnings }

func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the configuration. Slot settings apply from the next
// interval window; the upload concurrency cap is fixed at construction.
func (s *Scheduler) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info().Dur("interval", cfg.Interval).Int("per_interval", cfg.PerInterval).Msg("capture config updated")
	return nil
}

// Active returns the followed session, if any.
func (s *Scheduler) Active() (sessionID string, paused bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil || s.run.stopped {
		return "", false, false
	}
	return s.run.sessionID, s.run.paused, true
}

// Run applies session snapshots until ctx ends or updates closes.
func (s *Scheduler) Run(ctx context.Context, updates <-chan *model.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-updates:
			if !ok {
				return
			}
			s.Apply(sess)
		}
	}
}

// Apply follows sess. Nil means no open session.
func (s *Scheduler) Apply(sess *model.Session) {
	switch {
	case sess == nil:
		s.stopCurrent()
	case sess.ID == "":
		// Optimistic start; the id arrives with the confirmation.
	case sess.State == model.StateStopped:
		s.Stop(sess.ID)
	case sess.State == model.StatePaused:
		s.ensure(sess.ID, true)
	default:
		s.ensure(sess.ID, false)
	}
}

// Start begins or resumes scheduling for sessionID.
func (s *Scheduler) Start(sessionID string) { s.ensure(sessionID, false) }

// Pause cancels pending slots. Deliveries already under way continue.
func (s *Scheduler) Pause(sessionID string) { s.ensure(sessionID, true) }

// Stop cancels every future slot. In-flight deliveries get the grace
// period, after which they are cancelled and marked Failed.
func (s *Scheduler) Stop(sessionID string) {
	s.mu.Lock()
	r := s.run
	if r == nil || r.sessionID != sessionID || r.stopped {
		s.mu.Unlock()
		return
	}
	s.stopLocked(r)
	s.mu.Unlock()
}

func (s *Scheduler) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil && !s.run.stopped {
		s.stopLocked(s.run)
	}
}

func (s *Scheduler) ensure(sessionID string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	r := s.run
	if r != nil && r.sessionID != sessionID && !r.stopped {
		s.stopLocked(r)
	}
	if r == nil || r.sessionID != sessionID || r.stopped {
		r = s.newRunLocked(sessionID)
		r.paused = paused
		if !paused {
			s.openWindowLocked(r)
		}
		s.spawn(func() { s.resumePending(r) })
		return
	}

	switch {
	case paused && !r.paused:
		r.paused = true
		n := r.slots.CancelAll()
		s.logger.Info().Str(log.FieldEvent, "capture.suspended").Str(log.FieldSessionID, sessionID).Int("cancelled_slots", n).Msg("capture suspended")
	case !paused && r.paused:
		r.paused = false
		s.openWindowLocked(r)
		s.logger.Info().Str(log.FieldEvent, "capture.resumed").Str(log.FieldSessionID, sessionID).Msg("capture resumed")
	}
}

func (s *Scheduler) newRunLocked(sessionID string) *run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		sessionID: sessionID,
		startedAt: s.clock.Now(),
		slots:     task.NewGroup(s.clock),
		retries:   task.NewGroup(s.clock),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.run = r
	s.logger.Info().Str(log.FieldEvent, "capture.started").Str(log.FieldSessionID, sessionID).Msg("capture scheduling started")
	return r
}

// openWindowLocked places PerInterval slots uniformly in (0, Interval] from
// now and schedules the next window at the boundary.
func (s *Scheduler) openWindowLocked(r *run) {
	cfg := s.cfg
	r.window++
	for i := 0; i < cfg.PerInterval; i++ {
		offset := cfg.Interval - time.Duration(s.rng.Int64N(int64(cfg.Interval)))
		r.slots.After(offset, func() { s.fire(r) })
	}
	r.slots.After(cfg.Interval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.paused || r.stopped || s.closed {
			return
		}
		s.openWindowLocked(r)
	})
}

func (s *Scheduler) stopLocked(r *run) {
	r.stopped = true
	n := r.slots.Close()
	grace := s.cfg.GracePeriod
	s.logger.Info().Str(log.FieldEvent, "capture.stopped").Str(log.FieldSessionID, r.sessionID).Int("cancelled_slots", n).Dur("grace", grace).Msg("capture scheduling stopped")
	if grace <= 0 {
		s.expire(r)
		return
	}
	r.grace = s.clock.AfterFunc(grace, func() { s.expire(r) })
}

// expire force-cancels whatever is left of r.
func (s *Scheduler) expire(r *run) {
	r.expired.Do(func() {
		if r.grace != nil {
			r.grace.Stop()
		}
		r.cancel()
		r.retries.Close()
		s.spawn(func() { s.failOutstanding(r) })
	})
}

func (s *Scheduler) spawn(fn func()) {
	if !s.workers.Go(fn) {
		fn()
	}
}

func (s *Scheduler) fire(r *run) {
	s.mu.Lock()
	if r.stopped || r.paused || s.closed {
		s.mu.Unlock()
		return
	}
	at := s.clock.Now()
	s.mu.Unlock()
	s.spawn(func() { s.captureOne(r, at) })
}

func (s *Scheduler) captureOne(r *run, at time.Time) {
	ctx := r.ctx
	art, err := s.capturer.Capture(ctx)
	if err == nil && s.sealer != nil {
		art, err = s.sealer.Seal(ctx, art)
	}
	if err != nil {
		metrics.RecordCaptureTaken("error")
		s.warn(Warning{SessionID: r.sessionID, Kind: model.KindOf(err), Err: err, At: s.clock.Now()})
		return
	}
	metrics.RecordCaptureTaken("ok")

	meta := make(map[string]string, len(art.Metadata)+1)
	for k, v := range art.Metadata {
		meta[k] = v
	}
	if art.ContentType != "" {
		meta[metaContentType] = art.ContentType
	}
	rec := &model.Capture{
		ID:         s.newID(),
		SessionID:  r.sessionID,
		CapturedAt: at,
		Size:       int64(len(art.Data)),
		State:      model.DeliveryPending,
		Metadata:   meta,
		UpdatedAt:  s.clock.Now(),
	}
	bg := context.WithoutCancel(ctx)
	if err := s.store.Create(bg, rec); err != nil {
		s.warn(Warning{SessionID: r.sessionID, CaptureID: rec.ID, Kind: model.KindOf(err), Err: err, At: s.clock.Now()})
		return
	}

	path, err := s.stager.Stage(ctx, rec.ID, art.Data)
	if err != nil {
		s.fail(r, rec.ID, model.Storage("stage", err))
		return
	}
	if _, err := s.store.Update(bg, rec.ID, func(c *model.Capture) error {
		c.StagedPath = path
		return nil
	}); err != nil {
		s.fail(r, rec.ID, err)
		return
	}
	s.attempt(r, rec.ID)
}

// attempt makes one upload try. At most one attempt per capture runs at a
// time since retries are only scheduled after the previous try returned.
func (s *Scheduler) attempt(r *run, id string) {
	ctx := r.ctx
	bg := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		s.fail(r, id, errCancelled)
		return
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.fail(r, id, errCancelled)
		return
	}

	rec, err := transition(bg, s.store, id, model.DeliveryUploading, s.clock.Now(), nil)
	if err != nil {
		s.sem.Release(1)
		return
	}
	data, err := s.stager.Read(rec.StagedPath)
	if err != nil {
		s.sem.Release(1)
		s.fail(r, id, err)
		return
	}

	metrics.IncCaptureInFlight()
	started := time.Now()
	locator, err := s.uploader.Upload(ctx, UploadRequest{
		SessionID:   rec.SessionID,
		CaptureID:   rec.ID,
		CapturedAt:  rec.CapturedAt,
		ContentType: rec.Metadata[metaContentType],
		Data:        data,
	})
	metrics.ObserveCaptureUpload(time.Since(started).Seconds())
	metrics.DecCaptureInFlight()
	s.sem.Release(1)

	if err == nil {
		s.deliver(rec, locator)
		return
	}
	if ctx.Err() != nil {
		s.fail(r, id, errCancelled)
		return
	}

	cfg := s.Config()
	now := s.clock.Now()
	upd, uerr := s.store.Update(bg, id, func(c *model.Capture) error {
		c.RetryCount++
		c.LastError = err.Error()
		c.UpdatedAt = now
		return nil
	})
	if uerr != nil {
		s.fail(r, id, uerr)
		return
	}
	if !retryable(err) || upd.RetryCount >= cfg.MaxRetries {
		s.fail(r, id, err)
		return
	}

	delay := resilience.ExponentialDelay(cfg.RetryBaseDelay, cfg.RetryMaxDelay, upd.RetryCount-1)
	s.logger.Debug().Str(log.FieldEvent, "capture.retry").Str(log.FieldCaptureID, id).Int(log.FieldAttempt, upd.RetryCount).Dur("delay", delay).Err(err).Msg("upload failed, retrying")
	if _, ok := r.retries.After(delay, func() { s.spawn(func() { s.attempt(r, id) }) }); !ok {
		s.fail(r, id, errCancelled)
	}
}

func retryable(err error) bool {
	switch model.KindOf(err) {
	case model.KindValidation, model.KindNotFound, model.KindAuth, model.KindInvalidTransition, model.KindConflict:
		return false
	}
	return true
}

func (s *Scheduler) deliver(rec *model.Capture, locator string) {
	staged := rec.StagedPath
	_, err := transition(context.Background(), s.store, rec.ID, model.DeliveryDelivered, s.clock.Now(), func(c *model.Capture) {
		c.Locator = locator
		c.StagedPath = ""
		c.LastError = ""
	})
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldCaptureID, rec.ID).Msg("record delivery failed")
		return
	}
	if err := s.stager.Remove(staged); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldCaptureID, rec.ID).Msg("remove staged capture")
	}
	metrics.RecordCaptureDelivery("delivered")
	s.logger.Info().Str(log.FieldEvent, "capture.delivered").Str(log.FieldCaptureID, rec.ID).Str(log.FieldSessionID, rec.SessionID).Str("locator", locator).Msg("capture delivered")
}

// fail marks id Failed. A capture that already reached a final state is
// left alone.
func (s *Scheduler) fail(r *run, id string, cause error) {
	_, err := transition(context.Background(), s.store, id, model.DeliveryFailed, s.clock.Now(), func(c *model.Capture) {
		c.LastError = cause.Error()
	})
	if err != nil {
		return
	}
	metrics.RecordCaptureDelivery("failed")
	s.logger.Warn().Str(log.FieldEvent, "capture.failed").Str(log.FieldCaptureID, id).Str(log.FieldSessionID, r.sessionID).Err(cause).Msg("capture failed")
	s.warn(Warning{SessionID: r.sessionID, CaptureID: id, Kind: model.KindOf(cause), Err: cause, At: s.clock.Now()})
}

func (s *Scheduler) failOutstanding(r *run) {
	list, err := s.store.ListBySession(context.Background(), r.sessionID)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldSessionID, r.sessionID).Msg("list captures after stop")
		return
	}
	for _, c := range list {
		if !c.State.IsFinal() {
			s.fail(r, c.ID, errCancelled)
		}
	}
}

// resumePending restarts deliveries left unfinished before r began, e.g.
// by an earlier process.
func (s *Scheduler) resumePending(r *run) {
	list, err := s.store.ListBySession(context.Background(), r.sessionID)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldSessionID, r.sessionID).Msg("list pending captures")
		return
	}
	for _, c := range list {
		if c.State.IsFinal() || !c.CapturedAt.Before(r.startedAt) {
			continue
		}
		if c.StagedPath == "" {
			s.fail(r, c.ID, model.Storage("resume", errors.New("staged artifact missing")))
			continue
		}
		id := c.ID
		s.spawn(func() { s.attempt(r, id) })
	}
}

func (s *Scheduler) warn(w Warning) {
	select {
	case s.warnings <- w:
	default:
		s.logger.Warn().Str(log.FieldCaptureID, w.CaptureID).Msg("warning buffer full, dropping")
	}
}

// Close stops the followed session and waits for deliveries, forcing
// cancellation once the grace period or ctx runs out.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	r := s.run
	if r != nil && !r.stopped {
		s.stopLocked(r)
	}
	grace := s.cfg.GracePeriod
	s.mu.Unlock()

	gctx, cancel := context.WithTimeout(ctx, grace)
	err := s.workers.CloseAndWait(gctx)
	cancel()
	if r != nil {
		s.expire(r)
	}
	if err != nil {
		err = s.workers.CloseAndWait(ctx)
	}
	return err
}
