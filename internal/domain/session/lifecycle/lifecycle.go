// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lifecycle holds the pure session state machine. It performs no
// I/O; callers supply the clock reading.
package lifecycle

import (
	"time"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

// Action is a requested lifecycle mutation.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionStop   Action = "stop"
)

// Valid reports whether a is a known mutation.
func (a Action) Valid() bool {
	switch a {
	case ActionPause, ActionResume, ActionStop:
		return true
	}
	return false
}

type transitionKey struct {
	from   model.State
	action Action
}

var transitions = map[transitionKey]model.State{
	{model.StateActive, ActionPause}:  model.StatePaused,
	{model.StatePaused, ActionResume}: model.StateActive,
	{model.StateActive, ActionStop}:   model.StateStopped,
	{model.StatePaused, ActionStop}:   model.StateStopped,
}

// TransitionFor returns the target state for (from, action).
func TransitionFor(from model.State, action Action) (model.State, bool) {
	to, ok := transitions[transitionKey{from, action}]
	return to, ok
}

// NewSession builds the initial record for a started session.
func NewSession(id string, req model.StartRequest, now time.Time) *model.Session {
	since := now
	return &model.Session{
		ID:          id,
		OwnerID:     req.OwnerID,
		ProjectID:   req.ProjectID,
		Description: req.Description,
		DeviceID:    req.DeviceID,
		State:       model.StateActive,
		StartedAt:   now,
		ActiveSince: &since,
		Version:     0,
		UpdatedAt:   now,
	}
}

// Apply mutates rec in place for action at now. Leaving Active folds the
// running span into AccumulatedMs; a clock that went backwards contributes
// zero. The version is bumped by exactly one on success.
func Apply(rec *model.Session, action Action, now time.Time) error {
	if rec == nil {
		return model.Validation("apply", "session is nil")
	}
	to, ok := TransitionFor(rec.State, action)
	if !ok {
		return model.InvalidTransition(string(action), "cannot %s a %s session", action, rec.State)
	}

	if rec.State == model.StateActive {
		rec.AccumulatedMs += spanMs(rec.ActiveSince, now)
	}

	switch to {
	case model.StateActive:
		since := now
		rec.ActiveSince = &since
	case model.StatePaused:
		rec.ActiveSince = nil
	case model.StateStopped:
		end := now
		if end.Before(rec.StartedAt) {
			end = rec.StartedAt
		}
		rec.ActiveSince = nil
		rec.EndedAt = &end
	}

	rec.State = to
	rec.Version++
	rec.UpdatedAt = now
	return nil
}

func spanMs(since *time.Time, now time.Time) int64 {
	if since == nil {
		return 0
	}
	d := now.Sub(*since)
	if d <= 0 {
		return 0
	}
	return d.Milliseconds()
}

// Step is one entry of a recorded history.
type Step struct {
	Action Action
	At     time.Time
}

// Replay folds history over a freshly started session. It stops at the
// first rejected step and returns the record as of that point.
func Replay(id string, req model.StartRequest, startedAt time.Time, history []Step) (*model.Session, error) {
	rec := NewSession(id, req, startedAt)
	for _, st := range history {
		if err := Apply(rec, st.Action, st.At); err != nil {
			return rec, err
		}
	}
	return rec, nil
}
