// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionElapsed(t *testing.T) {
	start := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	since := start.Add(time.Minute)
	s := &Session{State: StateActive, StartedAt: start, ActiveSince: &since, AccumulatedMs: 30_000}

	assert.Equal(t, 30*time.Second, s.Elapsed(since))
	assert.Equal(t, 40*time.Second, s.Elapsed(since.Add(10*time.Second)))

	s.State = StatePaused
	s.ActiveSince = nil
	assert.Equal(t, 30*time.Second, s.Elapsed(since.Add(time.Hour)))
	assert.Equal(t, int64(30), s.AccumulatedSeconds())
}

func TestSessionCloneIsDeep(t *testing.T) {
	end := time.Now()
	s := &Session{ID: "a", EndedAt: &end}
	c := s.Clone()
	*c.EndedAt = end.Add(time.Hour)
	assert.Equal(t, end, *s.EndedAt)
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestSessionCovers(t *testing.T) {
	start := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	s := &Session{StartedAt: start}
	now := start.Add(10 * time.Minute)

	assert.True(t, s.Covers(start, now))
	assert.True(t, s.Covers(now, now))
	assert.False(t, s.Covers(start.Add(-time.Nanosecond), now))
	assert.False(t, s.Covers(now.Add(time.Second), now))

	s.EndedAt = &end
	assert.True(t, s.Covers(end, end.Add(time.Hour)))
	assert.False(t, s.Covers(end.Add(time.Second), end.Add(time.Hour)))
}

func TestSessionIsShort(t *testing.T) {
	s := &Session{State: StateStopped, AccumulatedMs: 59_000}
	assert.True(t, s.IsShort(time.Minute))
	assert.False(t, s.IsShort(0))
	s.AccumulatedMs = 60_000
	assert.False(t, s.IsShort(time.Minute))
}

func TestCaptureTransitions(t *testing.T) {
	assert.True(t, CaptureTransitionAllowed(DeliveryPending, DeliveryUploading))
	assert.True(t, CaptureTransitionAllowed(DeliveryPending, DeliveryFailed))
	assert.True(t, CaptureTransitionAllowed(DeliveryUploading, DeliveryUploading))
	assert.True(t, CaptureTransitionAllowed(DeliveryUploading, DeliveryDelivered))
	assert.False(t, CaptureTransitionAllowed(DeliveryPending, DeliveryDelivered))
	assert.False(t, CaptureTransitionAllowed(DeliveryDelivered, DeliveryUploading))
	assert.False(t, CaptureTransitionAllowed(DeliveryFailed, DeliveryUploading))
}

func TestEventForState(t *testing.T) {
	assert.Equal(t, EventSessionPaused, EventForState(StateActive, StatePaused))
	assert.Equal(t, EventSessionResumed, EventForState(StatePaused, StateActive))
	assert.Equal(t, EventSessionStopped, EventForState(StatePaused, StateStopped))
	assert.True(t, EventSessionStopped.IsSessionTransition())
	assert.False(t, EventCaptureDelivered.IsSessionTransition())
}
