// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package client talks to the Session API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/timetrack/internal/api"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

const defaultTimeout = 15 * time.Second

type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client is an authenticated Session API client for one owner.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, model.Validation("client", "invalid base url %q", baseURL)
	}
	c := &Client{
		base:  u,
		token: token,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) url(path string) string {
	return c.base.String() + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, model.Validation("client", "%v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes a 2xx body into out. Non-2xx responses become
// typed errors; network failures are Transport.
func (c *Client) do(req *http.Request, out any) error {
	op := req.Method + " " + req.URL.Path
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return model.Transport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.Transport(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := api.DecodeError(resp.StatusCode, raw)
		e.Op = op
		return e
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return model.Transport(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return model.Validation("client", "%v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) Start(ctx context.Context, body api.StartBody) (*model.Session, error) {
	var s model.Session
	if err := c.sendJSON(ctx, http.MethodPost, "/api/v1/sessions", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) transition(ctx context.Context, verb, id string, expected int64) (*model.Session, error) {
	var s model.Session
	path := "/api/v1/sessions/" + url.PathEscape(id) + "/" + verb
	if err := c.sendJSON(ctx, http.MethodPost, path, api.TransitionBody{ExpectedVersion: expected}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Pause(ctx context.Context, id string, expected int64) (*model.Session, error) {
	return c.transition(ctx, "pause", id, expected)
}

func (c *Client) Resume(ctx context.Context, id string, expected int64) (*model.Session, error) {
	return c.transition(ctx, "resume", id, expected)
}

func (c *Client) Stop(ctx context.Context, id string, expected int64) (*model.Session, error) {
	return c.transition(ctx, "stop", id, expected)
}

// GetActive returns the caller's non-terminal session, or nil.
func (c *Client) GetActive(ctx context.Context) (*model.Session, error) {
	var out api.ActiveResponse
	if err := c.sendJSON(ctx, http.MethodGet, "/api/v1/sessions/active", nil, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

func (c *Client) Get(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	if err := c.sendJSON(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
