// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package channel carries session notifications from the authority to
// observers over a websocket, and observer actions back. The observer side
// is driven by a Supervisor that owns reconnection and the outbound queue.
package channel

import (
	"encoding/json"
	"fmt"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

// MessageType names an envelope on the wire.
type MessageType string

const (
	TypeAuth       MessageType = "AUTH"
	TypeAuthOK     MessageType = "AUTH_OK"
	TypeAuthFailed MessageType = "AUTH_FAILED"
	TypeAction     MessageType = "ACTION"
	TypeAck        MessageType = "ACK"

	TypeSessionStarted   = MessageType(model.EventSessionStarted)
	TypeSessionPaused    = MessageType(model.EventSessionPaused)
	TypeSessionResumed   = MessageType(model.EventSessionResumed)
	TypeSessionStopped   = MessageType(model.EventSessionStopped)
	TypeCaptureDelivered = MessageType(model.EventCaptureDelivered)
	// TypeConnectionStatus is synthesized by the Supervisor and never sent
	// by the authority.
	TypeConnectionStatus = MessageType(model.EventConnectionStatus)
)

// IsSessionTransition reports whether envelopes of this type carry a
// session snapshot at a new version.
func (t MessageType) IsSessionTransition() bool {
	return model.EventType(t).IsSessionTransition()
}

// Envelope is the single wire frame.
type Envelope struct {
	Type           MessageType     `json:"type"`
	SessionID      string          `json:"sessionId,omitempty"`
	SessionVersion int64           `json:"sessionVersion"`
	ActionID       string          `json:"actionId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type AuthPayload struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId,omitempty"`
}

type AuthResult struct {
	OwnerID string `json:"ownerId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

// ActionKind is an observer-initiated lifecycle request.
type ActionKind string

const (
	ActionStart  ActionKind = "start"
	ActionPause  ActionKind = "pause"
	ActionResume ActionKind = "resume"
	ActionStop   ActionKind = "stop"
)

// Action is an observer's not-yet-confirmed request. Non-start actions carry
// the version the observer last saw so replays are rejected as stale.
type Action struct {
	ID              string     `json:"id"`
	Kind            ActionKind `json:"kind"`
	SessionID       string     `json:"sessionId,omitempty"`
	ExpectedVersion int64      `json:"expectedVersion"`
	ProjectID       string     `json:"projectId,omitempty"`
	Description     string     `json:"description,omitempty"`
	DeviceID        string     `json:"deviceId,omitempty"`
}

// Ack answers one Action.
type Ack struct {
	ActionID string         `json:"actionId"`
	OK       bool           `json:"ok"`
	Code     string         `json:"code,omitempty"`
	Error    string         `json:"error,omitempty"`
	Session  *model.Session `json:"session,omitempty"`
}

// NewEnvelope encodes payload into an envelope of type t.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// EnvelopeFromEvent converts an authority event for the wire.
func EnvelopeFromEvent(ev model.Event) (Envelope, error) {
	var payload any
	switch {
	case ev.Type == model.EventCaptureDelivered:
		payload = ev.Capture
	default:
		payload = ev.Session
	}
	env, err := NewEnvelope(MessageType(ev.Type), payload)
	if err != nil {
		return Envelope{}, err
	}
	env.SessionID = ev.SessionID
	env.SessionVersion = ev.Version
	return env, nil
}

// ActionEnvelope wraps a for sending.
func ActionEnvelope(a Action) (Envelope, error) {
	env, err := NewEnvelope(TypeAction, a)
	if err != nil {
		return Envelope{}, err
	}
	env.ActionID = a.ID
	env.SessionID = a.SessionID
	env.SessionVersion = a.ExpectedVersion
	return env, nil
}

// AckEnvelope wraps ack for sending.
func AckEnvelope(ack Ack) (Envelope, error) {
	env, err := NewEnvelope(TypeAck, ack)
	if err != nil {
		return Envelope{}, err
	}
	env.ActionID = ack.ActionID
	if ack.Session != nil {
		env.SessionID = ack.Session.ID
		env.SessionVersion = ack.Session.Version
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}

// Session decodes the session snapshot of a transition envelope.
func (e Envelope) Session() (*model.Session, error) {
	var s model.Session
	if err := e.Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
