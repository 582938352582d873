// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// State is the lifecycle state of a tracked work session.
type State string

const (
	StateActive  State = "ACTIVE"
	StatePaused  State = "PAUSED"
	StateStopped State = "STOPPED"
)

// IsTerminal returns true if no further mutation is permitted.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateActive, StatePaused, StateStopped:
		return true
	}
	return false
}

// StartRequest carries the caller-supplied fields of a new session.
type StartRequest struct {
	OwnerID     string `json:"ownerId"`
	ProjectID   string `json:"projectId,omitempty"`
	Description string `json:"description,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
}

// Session is the authority's record of one contiguous unit of tracked work.
//
// Invariants kept by the lifecycle package:
//   - EndedAt != nil iff State == StateStopped
//   - ActiveSince != nil iff State == StateActive
//   - AccumulatedMs never decreases
type Session struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	ProjectID   string `json:"projectId,omitempty"`
	Description string `json:"description,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`

	State       State      `json:"state"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	ActiveSince *time.Time `json:"activeSince,omitempty"`

	AccumulatedMs int64     `json:"accumulatedMs"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Accumulated returns the frozen active duration.
func (s *Session) Accumulated() time.Duration {
	return time.Duration(s.AccumulatedMs) * time.Millisecond
}

// AccumulatedSeconds returns the frozen active duration in whole seconds.
func (s *Session) AccumulatedSeconds() int64 {
	return s.AccumulatedMs / 1000
}

// Elapsed returns the live duration at now: the frozen value plus the
// currently running active span, if any.
func (s *Session) Elapsed(now time.Time) time.Duration {
	d := s.Accumulated()
	if s.State == StateActive && s.ActiveSince != nil && now.After(*s.ActiveSince) {
		d += now.Sub(*s.ActiveSince)
	}
	return d
}

// IsShort reports whether a stopped session fell below the noise threshold.
// A zero threshold disables the check.
func (s *Session) IsShort(min time.Duration) bool {
	if min <= 0 || s.State != StateStopped {
		return false
	}
	return s.Accumulated() < min
}

// Covers reports whether t lies within [StartedAt, EndedAt-or-now].
func (s *Session) Covers(t, now time.Time) bool {
	if t.Before(s.StartedAt) {
		return false
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return !t.After(end)
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.EndedAt = cloneTime(s.EndedAt)
	out.ActiveSince = cloneTime(s.ActiveSince)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
