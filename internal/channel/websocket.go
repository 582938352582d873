// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const ioTimeout = 10 * time.Second

// DefaultIdleTimeout allows one missed hub ping before the link is
// considered dead.
const DefaultIdleTimeout = 2 * defaultPingInterval

// WSDialer dials the authority's websocket endpoint.
type WSDialer struct {
	URL    string
	Header http.Header
	// IdleTimeout bounds the silence tolerated on a subscribed connection.
	// Hub pings reset it. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
}

func (d WSDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: ioTimeout}
	ws, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial channel websocket: %w", err)
	}
	idle := d.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	conn := newWSConn(ws)
	conn.expectPings(idle)
	return conn, nil
}

// wsConn adapts a gorilla connection to Conn. One reader and one writer may
// run concurrently.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once

	// idle and readCtx are only touched by the reading goroutine; the ping
	// handler runs inside ReadMessage.
	idle    time.Duration
	readCtx context.Context
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// expectPings makes every read fail after idle without traffic and lets
// peer pings extend that window.
func (c *wsConn) expectPings(idle time.Duration) {
	c.idle = idle
	c.ws.SetPingHandler(func(data string) error {
		if ctx := c.readCtx; ctx == nil || ctx.Err() == nil {
			_ = c.ws.SetReadDeadline(c.readDeadline(ctx))
		}
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(ioTimeout))
		var ne net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})
}

// readDeadline is the earlier of the ctx deadline and the idle window.
func (c *wsConn) readDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.idle > 0 {
		deadline = time.Now().Add(c.idle)
	}
	if ctx != nil {
		if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
			deadline = dl
		}
	}
	return deadline
}

func (c *wsConn) ReadEnvelope(ctx context.Context) (Envelope, error) {
	c.readCtx = ctx
	if err := c.ws.SetReadDeadline(c.readDeadline(ctx)); err != nil {
		return Envelope{}, fmt.Errorf("set read deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	_, payload, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return Envelope{}, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Envelope{}, fmt.Errorf("channel closed by peer: %w", err)
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return Envelope{}, fmt.Errorf("channel idle for %s: %w", c.idle, err)
		}
		return Envelope{}, fmt.Errorf("read websocket message: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func (c *wsConn) WriteEnvelope(ctx context.Context, env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(ioTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

func (c *wsConn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(ioTimeout))
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(500*time.Millisecond))
		err = c.ws.Close()
	})
	return err
}
