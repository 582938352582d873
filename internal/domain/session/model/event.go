// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// EventType names a notification carried from the authority to observers.
type EventType string

const (
	EventSessionStarted   EventType = "SESSION_STARTED"
	EventSessionPaused    EventType = "SESSION_PAUSED"
	EventSessionResumed   EventType = "SESSION_RESUMED"
	EventSessionStopped   EventType = "SESSION_STOPPED"
	EventCaptureDelivered EventType = "CAPTURE_DELIVERED"
	// EventConnectionStatus is synthesized locally by the observer's supervisor.
	EventConnectionStatus EventType = "CONNECTION_STATUS"
)

// IsSessionTransition reports whether the event carries a new session version.
func (t EventType) IsSessionTransition() bool {
	switch t {
	case EventSessionStarted, EventSessionPaused, EventSessionResumed, EventSessionStopped:
		return true
	}
	return false
}

// EventForState maps the state a transition landed in to its event type.
func EventForState(prev, next State) EventType {
	switch {
	case next == StateStopped:
		return EventSessionStopped
	case next == StatePaused:
		return EventSessionPaused
	case prev == StatePaused && next == StateActive:
		return EventSessionResumed
	default:
		return EventSessionStarted
	}
}

// Event is an authority notification routed per owner.
type Event struct {
	Type      EventType       `json:"type"`
	OwnerID   string          `json:"ownerId"`
	SessionID string          `json:"sessionId"`
	Version   int64           `json:"version"`
	Session   *Session        `json:"session,omitempty"`
	Capture   *CaptureReceipt `json:"capture,omitempty"`
	At        time.Time       `json:"at"`
}
