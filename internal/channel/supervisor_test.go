// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package channel

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/platform/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errPipeClosed = errors.New("pipe closed")

// pipeConn is an in-memory Conn; the test plays the authority.
type pipeConn struct {
	toClient   chan Envelope
	fromClient chan Envelope
	closed     chan struct{}
	once       sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		toClient:   make(chan Envelope, 16),
		fromClient: make(chan Envelope, 16),
		closed:     make(chan struct{}),
	}
}

// newStalledConn accepts a write only when the test reads it.
func newStalledConn() *pipeConn {
	c := newPipeConn()
	c.fromClient = make(chan Envelope)
	return c
}

func (c *pipeConn) ReadEnvelope(ctx context.Context) (Envelope, error) {
	select {
	case env := <-c.toClient:
		return env, nil
	case <-c.closed:
		return Envelope{}, errPipeClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (c *pipeConn) WriteEnvelope(ctx context.Context, env Envelope) error {
	select {
	case <-c.closed:
		return errPipeClosed
	default:
	}
	select {
	case c.fromClient <- env:
		return nil
	case <-c.closed:
		return errPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type pipeDialer struct {
	conns chan *pipeConn
	dials atomic.Int32
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{conns: make(chan *pipeConn, 4)}
}

func (d *pipeDialer) Dial(ctx context.Context) (Conn, error) {
	d.dials.Add(1)
	select {
	case c := <-d.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func recvEnv(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		require.True(t, ok, "channel closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope")
		return Envelope{}
	}
}

func acceptAuth(t *testing.T, c *pipeConn, owner string) {
	t.Helper()
	env := recvEnv(t, c.fromClient)
	require.Equal(t, TypeAuth, env.Type)
	var p AuthPayload
	require.NoError(t, env.Decode(&p))
	require.Equal(t, "tok", p.Token)

	ok, err := NewEnvelope(TypeAuthOK, AuthResult{OwnerID: owner})
	require.NoError(t, err)
	c.toClient <- ok
}

func requireStatus(t *testing.T, env Envelope, connected bool) {
	t.Helper()
	require.Equal(t, TypeConnectionStatus, env.Type)
	var st ConnectionStatus
	require.NoError(t, env.Decode(&st))
	require.Equal(t, connected, st.Connected)
}

// stateLog records supervisor state changes.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

type harness struct {
	sup    *Supervisor
	dialer *pipeDialer
	clock  *clock.Fake
	cancel context.CancelFunc
	done   chan error
}

func startSupervisor(t *testing.T, cfg SupervisorConfig, queued ...Action) *harness {
	t.Helper()
	h := &harness{
		dialer: newPipeDialer(),
		clock:  clock.NewFake(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)),
		done:   make(chan error, 1),
	}
	cfg.Rand = rand.New(rand.NewPCG(1, 2))
	h.sup = NewSupervisor(h.dialer, StaticToken("tok"), cfg, h.clock)
	for _, a := range queued {
		require.NoError(t, h.sup.Send(context.Background(), a))
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("supervisor did not stop")
		}
	})
	return h
}

func TestSupervisor_SubscribesAndResendsQueuedActions(t *testing.T) {
	h := startSupervisor(t, SupervisorConfig{},
		Action{ID: "a1", Kind: ActionStart, ProjectID: "p"},
		Action{ID: "a2", Kind: ActionPause, SessionID: "s1", ExpectedVersion: 0},
	)
	assert.Equal(t, 2, h.sup.Pending())

	conn := newPipeConn()
	h.dialer.conns <- conn
	acceptAuth(t, conn, "alice")

	requireStatus(t, recvEnv(t, h.sup.Inbound()), true)
	assert.Equal(t, "a1", recvEnv(t, conn.fromClient).ActionID)
	assert.Equal(t, "a2", recvEnv(t, conn.fromClient).ActionID)
	assert.Equal(t, StateSubscribed, h.sup.State())
	assert.Equal(t, "alice", h.sup.Owner())

	ack, err := AckEnvelope(Ack{ActionID: "a1", OK: true})
	require.NoError(t, err)
	conn.toClient <- ack
	assert.Equal(t, TypeAck, recvEnv(t, h.sup.Inbound()).Type)
	assert.Equal(t, 1, h.sup.Pending())

	// Direct send while subscribed.
	require.NoError(t, h.sup.Send(context.Background(), Action{ID: "a3", Kind: ActionStop, SessionID: "s1", ExpectedVersion: 1}))
	assert.Equal(t, "a3", recvEnv(t, conn.fromClient).ActionID)

	h.cancel()
	require.NoError(t, <-h.done)
	h.done <- nil
	for range h.sup.Inbound() {
	}
}

func TestSupervisor_ReconnectsWithBackoff(t *testing.T) {
	states := &stateLog{}
	h := startSupervisor(t, SupervisorConfig{OnState: states.record})

	conn1 := newPipeConn()
	h.dialer.conns <- conn1
	acceptAuth(t, conn1, "alice")
	requireStatus(t, recvEnv(t, h.sup.Inbound()), true)

	require.NoError(t, conn1.Close())
	requireStatus(t, recvEnv(t, h.sup.Inbound()), false)

	h.clock.BlockUntil(1)
	require.Eventually(t, func() bool { return h.sup.State() == StateBackoff }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []State{
		StateConnecting, StateAuthenticating, StateSubscribed,
		StateDisconnected, StateBackoff,
	}, states.snapshot())

	// Actions issued while disconnected wait for the next subscription.
	require.NoError(t, h.sup.Send(context.Background(), Action{ID: "late", Kind: ActionPause, SessionID: "s1"}))

	conn2 := newPipeConn()
	h.dialer.conns <- conn2
	h.clock.Advance(time.Minute)

	acceptAuth(t, conn2, "alice")
	requireStatus(t, recvEnv(t, h.sup.Inbound()), true)
	assert.Equal(t, "late", recvEnv(t, conn2.fromClient).ActionID)
	assert.Equal(t, int32(2), h.dialer.dials.Load())
}

func TestSupervisor_AuthRejectedIsFatal(t *testing.T) {
	h := startSupervisor(t, SupervisorConfig{})

	conn := newPipeConn()
	h.dialer.conns <- conn
	recvEnv(t, conn.fromClient)
	failed, err := NewEnvelope(TypeAuthFailed, AuthResult{Reason: "invalid_token"})
	require.NoError(t, err)
	conn.toClient <- failed

	select {
	case err := <-h.done:
		require.Error(t, err)
		assert.Equal(t, model.KindAuth, model.KindOf(err))
		assert.Contains(t, err.Error(), "invalid_token")
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, int32(1), h.dialer.dials.Load())
	assert.Equal(t, StateDisconnected, h.sup.State())
}

func TestSupervisor_AuthTimeoutIsFatal(t *testing.T) {
	h := startSupervisor(t, SupervisorConfig{AuthTimeout: 50 * time.Millisecond})

	conn := newPipeConn()
	h.dialer.conns <- conn
	recvEnv(t, conn.fromClient)

	select {
	case err := <-h.done:
		assert.Equal(t, model.KindAuth, model.KindOf(err))
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSupervisor_SendOverflowReportsDrop(t *testing.T) {
	sup := NewSupervisor(newPipeDialer(), StaticToken("tok"), SupervisorConfig{QueueCapacity: 2}, clock.NewFake(time.Now()))
	ctx := context.Background()
	require.NoError(t, sup.Send(ctx, Action{ID: "a1"}))
	require.NoError(t, sup.Send(ctx, Action{ID: "a2"}))

	err := sup.Send(ctx, Action{ID: "a3"})
	var overflow *OverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, "a1", overflow.Dropped.ID)
	assert.Equal(t, 2, sup.Pending())
}

func TestSupervisor_SendDoesNotWaitForStalledConn(t *testing.T) {
	h := startSupervisor(t, SupervisorConfig{})

	conn := newStalledConn()
	h.dialer.conns <- conn
	acceptAuth(t, conn, "alice")
	requireStatus(t, recvEnv(t, h.sup.Inbound()), true)

	// Nobody reads conn, so the first write blocks. Send must not.
	sent := make(chan error, 1)
	go func() {
		for _, id := range []string{"a1", "a2", "a3"} {
			if err := h.sup.Send(context.Background(), Action{ID: id, Kind: ActionPause, SessionID: "s1"}); err != nil {
				sent <- err
				return
			}
		}
		sent <- nil
	}()
	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a stalled connection")
	}
	assert.Equal(t, 3, h.sup.Pending())

	for _, want := range []string{"a1", "a2", "a3"} {
		assert.Equal(t, want, recvEnv(t, conn.fromClient).ActionID)
	}
}
