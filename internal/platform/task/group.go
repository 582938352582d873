// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package task provides cancellable scheduled tasks and a bounded goroutine
// registry. Components own one Group per cancellation scope so that a single
// CancelAll releases every pending timer.
package task

import (
	"sync"
	"time"

	"github.com/ManuGH/timetrack/internal/platform/clock"
)

// Group tracks timers scheduled on a clock.
type Group struct {
	clock clock.Clock

	mu     sync.Mutex
	next   uint64
	timers map[uint64]clock.Timer
	closed bool
}

// NewGroup returns an empty group backed by c.
func NewGroup(c clock.Clock) *Group {
	if c == nil {
		c = clock.Real{}
	}
	return &Group{clock: c, timers: make(map[uint64]clock.Timer)}
}

// After schedules fn to run once after d. The returned cancel func reports
// whether the task was removed before it ran. A closed group schedules nothing
// and returns ok=false.
func (g *Group) After(d time.Duration, fn func()) (cancel func() bool, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return func() bool { return false }, false
	}
	g.next++
	id := g.next
	g.timers[id] = g.clock.AfterFunc(d, func() {
		if !g.take(id) {
			return
		}
		fn()
	})
	return func() bool { return g.cancel(id) }, true
}

func (g *Group) take(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.timers[id]; !ok {
		return false
	}
	delete(g.timers, id)
	return true
}

func (g *Group) cancel(id uint64) bool {
	g.mu.Lock()
	t, ok := g.timers[id]
	delete(g.timers, id)
	g.mu.Unlock()
	if !ok {
		return false
	}
	t.Stop()
	return true
}

// CancelAll stops every pending task and returns how many were cancelled.
func (g *Group) CancelAll() int {
	g.mu.Lock()
	timers := g.timers
	g.timers = make(map[uint64]clock.Timer)
	g.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
	return len(timers)
}

// Close cancels all pending tasks and rejects new ones.
func (g *Group) Close() int {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return g.CancelAll()
}

// Len returns the number of pending tasks.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}
