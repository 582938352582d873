// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package channel

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/metrics"
	"github.com/ManuGH/timetrack/internal/platform/clock"
	"github.com/ManuGH/timetrack/internal/resilience"
)

// Conn is one established channel connection. Reads and writes honor ctx.
// One reader and one writer may run concurrently; Close unblocks both.
type Conn interface {
	ReadEnvelope(ctx context.Context) (Envelope, error)
	WriteEnvelope(ctx context.Context, env Envelope) error
	Close() error
}

// Dialer opens a new Conn.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// TokenSource yields the credential sent in the AUTH frame.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// State is the supervisor's connection state.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateSubscribed     State = "subscribed"
	StateBackoff        State = "backoff"
)

// SupervisorConfig tunes reconnection and buffering.
type SupervisorConfig struct {
	DeviceID      string
	AuthTimeout   time.Duration
	QueueCapacity int
	InboundBuffer int
	Backoff       resilience.BackoffConfig
	// Rand seeds backoff jitter. Nil uses a random seed.
	Rand *rand.Rand
	// OnState, if set, sees every state change in order. It must not block.
	OnState func(State)
}

func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		AuthTimeout:   10 * time.Second,
		QueueCapacity: 100,
		InboundBuffer: 64,
		Backoff:       resilience.DefaultBackoff(),
	}
}

// Supervisor keeps an observer connected to the authority. It redials with
// jittered exponential backoff after transport failures and gives up only
// on authentication failures or cancellation. Actions are held until
// acknowledged and resent in order after every reconnect.
type Supervisor struct {
	dialer  Dialer
	token   TokenSource
	cfg     SupervisorConfig
	clock   clock.Clock
	backoff *resilience.Backoff
	queue   *Queue
	inbound chan Envelope
	// wake nudges the writer of the live connection after a Send.
	wake chan struct{}

	mu    sync.Mutex
	state State
	owner string
}

// NewSupervisor builds a Supervisor. Run must be called exactly once.
func NewSupervisor(d Dialer, token TokenSource, cfg SupervisorConfig, c clock.Clock) *Supervisor {
	def := DefaultSupervisorConfig()
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = def.InboundBuffer
	}
	if cfg.Backoff == (resilience.BackoffConfig{}) {
		cfg.Backoff = def.Backoff
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Supervisor{
		dialer:  d,
		token:   token,
		cfg:     cfg,
		clock:   c,
		backoff: resilience.NewBackoff(cfg.Backoff, cfg.Rand),
		queue:   NewQueue(cfg.QueueCapacity),
		inbound: make(chan Envelope, cfg.InboundBuffer),
		wake:    make(chan struct{}, 1),
		state:   StateDisconnected,
	}
}

// Inbound delivers authority envelopes plus synthesized CONNECTION_STATUS
// frames. It is closed when Run returns.
func (s *Supervisor) Inbound() <-chan Envelope { return s.inbound }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Owner is the identity confirmed by the last AUTH_OK.
func (s *Supervisor) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Pending returns the number of unacknowledged actions.
func (s *Supervisor) Pending() int { return s.queue.Len() }

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		if s.cfg.OnState != nil {
			s.cfg.OnState(next)
		}
		metrics.SetChannelState(string(next))
		logger := log.WithComponent("channel")
		logger.Debug().Str(log.FieldOldState, string(prev)).Str(log.FieldNewState, string(next)).Msg("channel state")
	}
}

// Send queues a for delivery and hands it to the connection writer. It
// never waits for the network. An *OverflowError means an older action was
// dropped; a is queued regardless.
func (s *Supervisor) Send(_ context.Context, a Action) error {
	if _, err := ActionEnvelope(a); err != nil {
		return model.Validation("channel.send", "%v", err)
	}

	pushErr := s.queue.Push(a)
	metrics.SetChannelQueueDepth(s.queue.Len())
	var overflow *OverflowError
	if errors.As(pushErr, &overflow) {
		metrics.IncChannelQueueDropped()
		logger := log.WithComponent("channel")
		logger.Warn().Str(log.FieldActionID, overflow.Dropped.ID).Msg("outbound queue overflow, dropped oldest action")
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return pushErr
}

// Run drives the connection until ctx is cancelled or authentication is
// rejected. It returns nil on cancellation and an AUTH error otherwise.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.inbound)
	defer s.setState(StateDisconnected)

	logger := log.WithComponent("channel")
	attempt := 0
	for {
		err := s.connectOnce(ctx, logger, &attempt)
		if ctx.Err() != nil {
			return nil
		}
		s.setState(StateDisconnected)
		if model.KindOf(err) == model.KindAuth {
			logger.Error().Err(err).Msg("channel authentication rejected, giving up")
			return err
		}

		delay := s.backoff.Delay(attempt)
		attempt++
		s.setState(StateBackoff)
		logger.Warn().Err(err).Int(log.FieldAttempt, attempt).Dur("delay", delay).Msg("channel disconnected, retrying")
		if err := clock.Sleep(ctx, s.clock, delay); err != nil {
			return nil
		}
		metrics.IncChannelReconnect()
	}
}

func (s *Supervisor) connectOnce(ctx context.Context, logger zerolog.Logger, attempt *int) error {
	s.setState(StateConnecting)
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return model.Transport("channel.dial", err)
	}
	defer conn.Close()

	s.setState(StateAuthenticating)
	owner, err := s.authenticate(ctx, conn)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()

	*attempt = 0
	logger.Info().Str(log.FieldOwnerID, owner).Msg("channel subscribed")
	return s.serve(ctx, conn)
}

func (s *Supervisor) authenticate(ctx context.Context, conn Conn) (string, error) {
	token, err := s.token(ctx)
	if err != nil {
		return "", model.Auth("channel.auth", "token unavailable: %v", err)
	}
	env, err := NewEnvelope(TypeAuth, AuthPayload{Token: token, DeviceID: s.cfg.DeviceID})
	if err != nil {
		return "", model.Validation("channel.auth", "%v", err)
	}

	actx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()

	if err := conn.WriteEnvelope(actx, env); err != nil {
		return "", model.Transport("channel.auth", err)
	}
	reply, err := conn.ReadEnvelope(actx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return "", model.Auth("channel.auth", "no reply within %s", s.cfg.AuthTimeout)
		}
		return "", model.Transport("channel.auth", err)
	}

	var res AuthResult
	switch reply.Type {
	case TypeAuthOK:
		if len(reply.Payload) > 0 {
			if err := reply.Decode(&res); err != nil {
				return "", model.Transport("channel.auth", err)
			}
		}
		return res.OwnerID, nil
	case TypeAuthFailed:
		_ = reply.Decode(&res)
		return "", model.Auth("channel.auth", "rejected: %s", res.Reason)
	default:
		return "", model.Auth("channel.auth", "unexpected %s frame before AUTH_OK", reply.Type)
	}
}

func (s *Supervisor) serve(ctx context.Context, conn Conn) error {
	s.setState(StateSubscribed)
	if !s.emit(ctx, connectionEnvelope(true, "")) {
		return ctx.Err()
	}

	wctx, stopWriter := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(wctx, conn)
	}()
	defer func() {
		stopWriter()
		_ = conn.Close()
		<-writerDone
	}()

	for {
		env, err := conn.ReadEnvelope(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.emit(ctx, connectionEnvelope(false, err.Error()))
			return model.Transport("channel.read", err)
		}
		if env.Type == TypeAck {
			s.queue.Ack(env.ActionID)
			metrics.SetChannelQueueDepth(s.queue.Len())
		}
		if !s.emit(ctx, env) {
			return ctx.Err()
		}
	}
}

// writeLoop is the only writer after authentication. It first resends every
// unacknowledged action in order, then writes new ones as Send queues them.
// A write failure closes conn so the read side reports the disconnect.
func (s *Supervisor) writeLoop(ctx context.Context, conn Conn) {
	logger := log.WithComponent("channel")
	written := make(map[string]struct{})
	for {
		pending := s.queue.Snapshot()
		next := make(map[string]struct{}, len(pending))
		for _, a := range pending {
			if _, ok := written[a.ID]; ok {
				next[a.ID] = struct{}{}
				continue
			}
			env, err := ActionEnvelope(a)
			if err != nil {
				continue
			}
			if err := conn.WriteEnvelope(ctx, env); err != nil {
				if ctx.Err() == nil {
					logger.Debug().Err(err).Str(log.FieldActionID, a.ID).Msg("send failed, action kept for resend")
					_ = conn.Close()
				}
				return
			}
			next[a.ID] = struct{}{}
		}
		written = next

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

func (s *Supervisor) emit(ctx context.Context, env Envelope) bool {
	select {
	case s.inbound <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

func connectionEnvelope(connected bool, reason string) Envelope {
	env, err := NewEnvelope(TypeConnectionStatus, ConnectionStatus{Connected: connected, Reason: reason})
	if err != nil {
		panic(fmt.Sprintf("encode connection status: %v", err))
	}
	return env
}
