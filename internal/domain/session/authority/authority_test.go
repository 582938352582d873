// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package authority

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/timetrack/internal/bus"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/domain/session/store"
	"github.com/ManuGH/timetrack/internal/platform/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type fixture struct {
	auth  *Authority
	store *store.MemoryStore
	bus   *bus.MemoryBus
	clock *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemoryStore(),
		bus:   bus.NewMemoryBus(64),
		clock: clock.NewFake(t0),
	}
	var n atomic.Int64
	f.auth = New(f.store, f.bus, DefaultConfig(),
		WithClock(f.clock),
		WithIDGenerator(func() string { return fmt.Sprintf("s%d", n.Add(1)) }))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, f.auth.Close(ctx))
	})
	return f
}

func (f *fixture) subscribe(t *testing.T, owner string) bus.Subscriber {
	t.Helper()
	sub, err := f.bus.Subscribe(context.Background(), bus.OwnerTopic(owner))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func next(t *testing.T, sub bus.Subscriber) model.Event {
	t.Helper()
	select {
	case ev := <-sub.C():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return model.Event{}
	}
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, "u1")
	ctx := context.Background()

	s, err := f.auth.Start(ctx, model.StartRequest{OwnerID: "u1", ProjectID: "p1", Description: "billing"})
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, s.State)
	assert.Equal(t, int64(0), s.Version)
	assert.Equal(t, t0, s.StartedAt)

	ev := next(t, sub)
	assert.Equal(t, model.EventSessionStarted, ev.Type)
	assert.Equal(t, s.ID, ev.SessionID)
	assert.Equal(t, int64(0), ev.Version)

	_, err = f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
	assert.ErrorIs(t, err, model.ErrConflict)

	_, err = f.auth.Start(ctx, model.StartRequest{OwnerID: "  "})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestPauseResumeStopAccounting(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, "u1")
	ctx := context.Background()

	s, err := f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	s, err = f.auth.Pause(ctx, "u1", s.ID, s.Version)
	require.NoError(t, err)
	assert.Equal(t, model.StatePaused, s.State)

	f.clock.Advance(60 * time.Second)
	s, err = f.auth.Resume(ctx, "u1", s.ID, s.Version)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	s, err = f.auth.Stop(ctx, "u1", s.ID, s.Version)
	require.NoError(t, err)

	assert.Equal(t, model.StateStopped, s.State)
	assert.Equal(t, 60*time.Second, s.Accumulated())
	assert.Equal(t, int64(3), s.Version)
	require.NotNil(t, s.EndedAt)

	want := []model.EventType{model.EventSessionStarted, model.EventSessionPaused, model.EventSessionResumed, model.EventSessionStopped}
	for i, typ := range want {
		ev := next(t, sub)
		assert.Equal(t, typ, ev.Type)
		assert.Equal(t, int64(i), ev.Version)
	}

	active, err := f.auth.GetActive(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestStalePauseConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
	require.NoError(t, err)
	s, err = f.auth.Pause(ctx, "u1", s.ID, 0)
	require.NoError(t, err)
	s, err = f.auth.Resume(ctx, "u1", s.ID, 1)
	require.NoError(t, err)

	_, err = f.auth.Pause(ctx, "u1", s.ID, s.Version-1)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConflict)

	got, err := f.auth.Get(ctx, "u1", s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, got.State)
	assert.Equal(t, s.Version, got.Version)
}

func TestInvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
	require.NoError(t, err)

	_, err = f.auth.Resume(ctx, "u1", s.ID, 0)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	s, err = f.auth.Pause(ctx, "u1", s.ID, 0)
	require.NoError(t, err)
	_, err = f.auth.Pause(ctx, "u1", s.ID, s.Version)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	s, err = f.auth.Stop(ctx, "u1", s.ID, s.Version)
	require.NoError(t, err)
	_, err = f.auth.Resume(ctx, "u1", s.ID, s.Version)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, "u1")
	ctx := context.Background()
	s, err := f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	first, err := f.auth.Stop(ctx, "u1", s.ID, 0)
	require.NoError(t, err)
	second, err := f.auth.Stop(ctx, "u1", s.ID, first.Version)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Only STARTED and one STOPPED are broadcast.
	assert.Equal(t, model.EventSessionStarted, next(t, sub).Type)
	assert.Equal(t, model.EventSessionStopped, next(t, sub).Type)
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = f.auth.Stop(ctx, "u1", s.ID, 0)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestConcurrentStartsAdmitOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
			switch {
			case err == nil:
				ok.Add(1)
			case model.KindOf(err) == model.KindConflict:
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())
}

func TestOwnerScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
	require.NoError(t, err)

	_, err = f.auth.Pause(ctx, "intruder", s.ID, 0)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.auth.Get(ctx, "intruder", s.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.auth.Pause(ctx, "u1", "missing", 0)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAcceptCaptureWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	_, err = f.auth.AcceptCapture(ctx, "u1", s.ID, t0.Add(5*time.Minute))
	assert.NoError(t, err)
	_, err = f.auth.AcceptCapture(ctx, "u1", s.ID, t0.Add(-time.Second))
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = f.auth.AcceptCapture(ctx, "u1", s.ID, t0.Add(11*time.Minute))
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.auth.Stop(ctx, "u1", s.ID, 0)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.auth.AcceptCapture(ctx, "u1", s.ID, t0.Add(10*time.Minute+time.Second))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestNotifyCaptureDelivered(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, "u1")
	ctx := context.Background()
	s, err := f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
	require.NoError(t, err)
	next(t, sub)

	f.auth.NotifyCaptureDelivered(ctx, "u1", model.CaptureReceipt{CaptureID: "c1", SessionID: s.ID, Locator: "blob://x"})
	ev := next(t, sub)
	assert.Equal(t, model.EventCaptureDelivered, ev.Type)
	require.NotNil(t, ev.Capture)
	assert.Equal(t, "c1", ev.Capture.CaptureID)
}

func TestSweeperStopsStalePausedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s1, err := f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
	require.NoError(t, err)
	_, err = f.auth.Pause(ctx, "u1", s1.ID, 0)
	require.NoError(t, err)
	_, err = f.auth.Start(ctx, model.StartRequest{OwnerID: "u2"})
	require.NoError(t, err)

	sw := &Sweeper{Auth: f.auth, Conf: SweeperConfig{Interval: time.Minute, PausedMaxAge: time.Hour}, Clock: f.clock}
	assert.Equal(t, 0, sw.SweepOnce(ctx))

	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, sw.SweepOnce(ctx))

	got, err := f.auth.Get(ctx, "u1", s1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateStopped, got.State)

	// Owner may start again once the stale session is gone.
	_, err = f.auth.Start(ctx, model.StartRequest{OwnerID: "u1"})
	assert.NoError(t, err)
}

func TestSweeperDisabledByDefault(t *testing.T) {
	f := newFixture(t)
	sw := &Sweeper{Auth: f.auth, Clock: f.clock}
	assert.Equal(t, 0, sw.SweepOnce(context.Background()))
	sw.Run(context.Background()) // returns immediately
}

func TestBroadcastNeverBlocksMutations(t *testing.T) {
	st := store.NewMemoryStore()
	b := &blockingBus{release: make(chan struct{})}
	a := New(st, b, Config{BroadcastBuffer: 1}, WithClock(clock.NewFake(t0)))

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			_, err := a.Start(ctx, model.StartRequest{OwnerID: fmt.Sprintf("u%d", i)})
			assert.NoError(t, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mutations blocked on a stalled bus")
	}

	close(b.release)
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, a.Close(cctx))
}

type blockingBus struct {
	release chan struct{}
}

func (b *blockingBus) Publish(ctx context.Context, _ string, _ model.Event) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingBus) Subscribe(context.Context, string) (bus.Subscriber, error) {
	return nil, fmt.Errorf("not supported")
}
