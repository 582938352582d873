// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/timetrack/internal/platform/clock"
)

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	cb := NewCircuitBreaker("test", 3, 10*time.Second, WithClock(c))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Second, WithClock(clock.NewFake(time.Unix(0, 0))))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	cb := NewCircuitBreaker("test", 1, 10*time.Second, WithClock(c))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	c.Advance(10 * time.Second)
	// Failed probe re-opens.
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	c.Advance(10 * time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SingleProbeInFlight(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	cb := NewCircuitBreaker("test", 1, time.Second, WithClock(c))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	c.Advance(time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		// A concurrent caller is rejected while the probe runs.
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailureFilter(t *testing.T) {
	permanent := errors.New("rejected")
	cb := NewCircuitBreaker("test", 1, time.Second,
		WithClock(clock.NewFake(time.Unix(0, 0))),
		WithFailureFilter(func(err error) bool { return !errors.Is(err, permanent) }))

	assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return permanent }), permanent)
	assert.Equal(t, StateClosed, cb.State())
}
