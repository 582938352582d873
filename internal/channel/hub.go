// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package channel

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ManuGH/timetrack/internal/bus"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/metrics"
	"github.com/ManuGH/timetrack/internal/platform/task"
)

// TokenVerifier maps a credential to an owner identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (ownerID string, err error)
}

// ActionHandler executes observer actions. *authority.Authority satisfies it.
type ActionHandler interface {
	Start(ctx context.Context, req model.StartRequest) (*model.Session, error)
	Pause(ctx context.Context, owner, sessionID string, expectedVersion int64) (*model.Session, error)
	Resume(ctx context.Context, owner, sessionID string, expectedVersion int64) (*model.Session, error)
	Stop(ctx context.Context, owner, sessionID string, expectedVersion int64) (*model.Session, error)
}

const defaultPingInterval = 30 * time.Second

type HubConfig struct {
	AuthTimeout  time.Duration
	PingInterval time.Duration
	ReadLimit    int64
	// ActionRate caps actions per second per connection.
	ActionRate  float64
	ActionBurst int
	SendBuffer  int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		AuthTimeout:  10 * time.Second,
		PingInterval: defaultPingInterval,
		ReadLimit:    64 << 10,
		ActionRate:   5,
		ActionBurst:  20,
		SendBuffer:   64,
	}
}

// Hub is the authority side of the event channel.
type Hub struct {
	bus      bus.Bus
	verifier TokenVerifier
	actions  ActionHandler
	cfg      HubConfig
	upgrader websocket.Upgrader
	workers  task.Registry

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func NewHub(b bus.Bus, v TokenVerifier, actions ActionHandler, cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.ActionRate <= 0 {
		cfg.ActionRate = def.ActionRate
	}
	if cfg.ActionBurst <= 0 {
		cfg.ActionBurst = def.ActionBurst
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &Hub{
		bus:      b,
		verifier: v,
		actions:  actions,
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: isOriginAllowed},
		conns:    make(map[*wsConn]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "hub")
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(h.cfg.ReadLimit)
	conn := newWSConn(ws)

	if !h.track(conn) {
		_ = conn.Close()
		return
	}
	defer h.untrack(conn)

	// The request context ends when the handler returns; the connection
	// lives on its own context.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	h.serve(ctx, conn)
}

func (h *Hub) track(c *wsConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns == nil {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) untrack(c *wsConn) {
	h.mu.Lock()
	if h.conns != nil {
		delete(h.conns, c)
	}
	h.mu.Unlock()
	_ = c.Close()
}

// Close disconnects every client and waits for connection workers.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()
	for c := range conns {
		_ = c.Close()
	}
	return h.workers.CloseAndWait(ctx)
}

func (h *Hub) serve(ctx context.Context, conn *wsConn) {
	connID := uuid.NewString()
	logger := log.WithComponent("hub").With().Str(log.FieldConnID, connID).Logger()

	owner, reason := h.authenticate(ctx, conn)
	if owner == "" {
		metrics.IncHubAuthFailure(reason)
		logger.Info().Str("reason", reason).Msg("channel auth rejected")
		env, _ := NewEnvelope(TypeAuthFailed, AuthResult{Reason: reason})
		_ = conn.WriteEnvelope(ctx, env)
		return
	}
	logger = logger.With().Str(log.FieldOwnerID, owner).Logger()

	sub, err := h.bus.Subscribe(ctx, bus.OwnerTopic(owner))
	if err != nil {
		logger.Error().Err(err).Msg("subscribe owner topic failed")
		return
	}
	defer sub.Close()

	ok, _ := NewEnvelope(TypeAuthOK, AuthResult{OwnerID: owner})
	if err := conn.WriteEnvelope(ctx, ok); err != nil {
		logger.Debug().Err(err).Msg("write AUTH_OK failed")
		return
	}
	metrics.IncHubConnections()
	defer metrics.DecHubConnections()
	logger.Info().Msg("channel connected")

	acks := make(chan Envelope, h.cfg.SendBuffer)
	wctx, stopWriter := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	if !h.workers.Go(func() {
		defer close(writerDone)
		defer stopWriter()
		h.writeLoop(wctx, conn, sub, acks)
	}) {
		stopWriter()
		return
	}
	defer func() {
		stopWriter()
		<-writerDone
	}()

	h.readLoop(wctx, conn, owner, acks)
	logger.Info().Msg("channel disconnected")
}

func (h *Hub) authenticate(ctx context.Context, conn *wsConn) (owner, reason string) {
	actx, cancel := context.WithTimeout(ctx, h.cfg.AuthTimeout)
	defer cancel()

	env, err := conn.ReadEnvelope(actx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", "timeout"
		}
		return "", "read"
	}
	if env.Type != TypeAuth {
		return "", "protocol"
	}
	var p AuthPayload
	if err := env.Decode(&p); err != nil || strings.TrimSpace(p.Token) == "" {
		return "", "missing_token"
	}
	owner, err = h.verifier.Verify(actx, p.Token)
	if err != nil || owner == "" {
		return "", "invalid_token"
	}
	return owner, ""
}

// writeLoop is the single writer for events and ACKs. Events are written
// in bus order.
func (h *Hub) writeLoop(ctx context.Context, conn *wsConn, sub bus.Subscriber, acks <-chan Envelope) {
	logger := log.WithComponent("hub")
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			env, err := EnvelopeFromEvent(ev)
			if err != nil {
				logger.Error().Err(err).Str(log.FieldSessionID, ev.SessionID).Msg("encode event")
				continue
			}
			if err := conn.WriteEnvelope(ctx, env); err != nil {
				logger.Debug().Err(err).Msg("write event failed")
				return
			}
		case env := <-acks:
			if err := conn.WriteEnvelope(ctx, env); err != nil {
				logger.Debug().Err(err).Msg("write ack failed")
				return
			}
		case <-ping.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *wsConn, owner string, acks chan<- Envelope) {
	limiter := rate.NewLimiter(rate.Limit(h.cfg.ActionRate), h.cfg.ActionBurst)
	for {
		env, err := conn.ReadEnvelope(ctx)
		if err != nil {
			return
		}
		if env.Type != TypeAction {
			continue
		}

		var a Action
		if err := env.Decode(&a); err != nil {
			h.reply(ctx, acks, failedAck(env.ActionID, model.Validation("hub.action", "%v", err)))
			continue
		}
		if !limiter.Allow() {
			h.reply(ctx, acks, Ack{ActionID: a.ID, Code: "RATE_LIMITED", Error: "too many actions"})
			continue
		}
		h.reply(ctx, acks, h.execute(ctx, owner, a))
	}
}

func (h *Hub) execute(ctx context.Context, owner string, a Action) Ack {
	var (
		sess *model.Session
		err  error
	)
	switch a.Kind {
	case ActionStart:
		sess, err = h.actions.Start(ctx, model.StartRequest{
			OwnerID:     owner,
			ProjectID:   a.ProjectID,
			Description: a.Description,
			DeviceID:    a.DeviceID,
		})
	case ActionPause:
		sess, err = h.actions.Pause(ctx, owner, a.SessionID, a.ExpectedVersion)
	case ActionResume:
		sess, err = h.actions.Resume(ctx, owner, a.SessionID, a.ExpectedVersion)
	case ActionStop:
		sess, err = h.actions.Stop(ctx, owner, a.SessionID, a.ExpectedVersion)
	default:
		err = model.Validation("hub.action", "unknown action kind %q", a.Kind)
	}
	if err != nil {
		return failedAck(a.ID, err)
	}
	return Ack{ActionID: a.ID, OK: true, Session: sess}
}

func failedAck(id string, err error) Ack {
	return Ack{ActionID: id, Code: string(model.KindOf(err)), Error: err.Error()}
}

func (h *Hub) reply(ctx context.Context, acks chan<- Envelope, ack Ack) {
	env, err := AckEnvelope(ack)
	if err != nil {
		return
	}
	select {
	case acks <- env:
	case <-ctx.Done():
	}
}

func isOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}
