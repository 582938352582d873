// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newActive() *model.Session {
	return NewSession("s1", model.StartRequest{OwnerID: "u1", ProjectID: "p1"}, t0)
}

func TestNewSession(t *testing.T) {
	s := newActive()
	assert.Equal(t, model.StateActive, s.State)
	assert.Equal(t, int64(0), s.Version)
	assert.Equal(t, int64(0), s.AccumulatedMs)
	require.NotNil(t, s.ActiveSince)
	assert.Equal(t, t0, *s.ActiveSince)
	assert.Nil(t, s.EndedAt)
}

func TestTransitionTable(t *testing.T) {
	states := []model.State{model.StateActive, model.StatePaused, model.StateStopped}
	actions := []Action{ActionPause, ActionResume, ActionStop}
	allowed := map[transitionKey]bool{
		{model.StateActive, ActionPause}:  true,
		{model.StatePaused, ActionResume}: true,
		{model.StateActive, ActionStop}:   true,
		{model.StatePaused, ActionStop}:   true,
	}
	for _, st := range states {
		for _, a := range actions {
			_, ok := TransitionFor(st, a)
			assert.Equal(t, allowed[transitionKey{st, a}], ok, "%s/%s", st, a)
		}
	}
}

func TestPauseResumeAccrual(t *testing.T) {
	s := newActive()

	require.NoError(t, Apply(s, ActionPause, t0.Add(90*time.Second)))
	assert.Equal(t, model.StatePaused, s.State)
	assert.Equal(t, int64(90_000), s.AccumulatedMs)
	assert.Nil(t, s.ActiveSince)
	assert.Equal(t, int64(1), s.Version)

	// Paused time does not count.
	require.NoError(t, Apply(s, ActionResume, t0.Add(10*time.Minute)))
	assert.Equal(t, int64(90_000), s.AccumulatedMs)
	require.NotNil(t, s.ActiveSince)
	assert.Equal(t, t0.Add(10*time.Minute), *s.ActiveSince)

	require.NoError(t, Apply(s, ActionStop, t0.Add(11*time.Minute)))
	assert.Equal(t, model.StateStopped, s.State)
	assert.Equal(t, int64(150_000), s.AccumulatedMs)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, int64(3), s.Version)
}

func TestStopFromPausedKeepsAccumulated(t *testing.T) {
	s := newActive()
	require.NoError(t, Apply(s, ActionPause, t0.Add(time.Minute)))
	require.NoError(t, Apply(s, ActionStop, t0.Add(time.Hour)))
	assert.Equal(t, int64(60_000), s.AccumulatedMs)
}

func TestInvalidTransitions(t *testing.T) {
	s := newActive()
	err := Apply(s, ActionResume, t0)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, int64(0), s.Version)

	require.NoError(t, Apply(s, ActionStop, t0.Add(time.Second)))
	for _, a := range []Action{ActionPause, ActionResume, ActionStop} {
		assert.ErrorIs(t, Apply(s, a, t0.Add(time.Minute)), model.ErrInvalidTransition)
	}
	assert.Equal(t, int64(1), s.Version)
}

func TestClockSkewContributesZero(t *testing.T) {
	s := newActive()
	require.NoError(t, Apply(s, ActionPause, t0.Add(-time.Minute)))
	assert.Equal(t, int64(0), s.AccumulatedMs)
}

// TestReplayInvariants drives random histories and checks the record
// invariants after every step.
func TestReplayInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	actions := []Action{ActionPause, ActionResume, ActionStop}

	for run := 0; run < 200; run++ {
		s := newActive()
		now := t0
		var prevAcc, prevVersion int64
		var activeMs int64
		for i := 0; i < 20; i++ {
			step := time.Duration(rng.IntN(600_000)) * time.Millisecond
			now = now.Add(step)
			wasActive := s.State == model.StateActive
			sinceBefore := s.ActiveSince

			err := Apply(s, actions[rng.IntN(len(actions))], now)
			if err != nil {
				assert.ErrorIs(t, err, model.ErrInvalidTransition)
				assert.Equal(t, prevVersion, s.Version)
				continue
			}
			if wasActive {
				activeMs += now.Sub(*sinceBefore).Milliseconds()
			}

			assert.Equal(t, prevVersion+1, s.Version)
			assert.GreaterOrEqual(t, s.AccumulatedMs, prevAcc)
			assert.Equal(t, s.State == model.StateStopped, s.EndedAt != nil)
			assert.Equal(t, s.State == model.StateActive, s.ActiveSince != nil)
			assert.Equal(t, activeMs, s.AccumulatedMs)
			prevAcc, prevVersion = s.AccumulatedMs, s.Version
		}
	}
}

func TestReplay(t *testing.T) {
	hist := []Step{
		{ActionPause, t0.Add(time.Minute)},
		{ActionResume, t0.Add(2 * time.Minute)},
		{ActionStop, t0.Add(4 * time.Minute)},
	}
	s, err := Replay("s1", model.StartRequest{OwnerID: "u1"}, t0, hist)
	require.NoError(t, err)
	assert.Equal(t, int64(180_000), s.AccumulatedMs)
	assert.Equal(t, int64(3), s.Version)

	_, err = Replay("s1", model.StartRequest{OwnerID: "u1"}, t0, append(hist, Step{ActionPause, t0.Add(5 * time.Minute)}))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}
