// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package authority

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/timetrack/internal/bus"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/metrics"
)

const publishTimeout = 5 * time.Second

// broadcaster publishes accepted events from a single goroutine, which keeps
// them in enqueue order. A full queue drops the event; observers recover via
// the version gap on the next one.
type broadcaster struct {
	bus  bus.Bus
	ch   chan model.Event
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newBroadcaster(b bus.Bus, buffer int) *broadcaster {
	bc := &broadcaster{
		bus:  b,
		ch:   make(chan model.Event, buffer),
		done: make(chan struct{}),
	}
	go bc.run()
	return bc
}

func (bc *broadcaster) enqueue(ev model.Event) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.closed {
		return
	}
	select {
	case bc.ch <- ev:
	default:
		metrics.IncBroadcastDropped()
		logger := log.WithComponent("authority")
		logger.Warn().
			Str(log.FieldSessionID, ev.SessionID).
			Str(log.FieldEvent, string(ev.Type)).
			Int64(log.FieldVersion, ev.Version).
			Msg("broadcast queue full, dropping event")
	}
}

func (bc *broadcaster) run() {
	defer close(bc.done)
	logger := log.WithComponent("authority")
	for ev := range bc.ch {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := bc.bus.Publish(ctx, bus.OwnerTopic(ev.OwnerID), ev); err != nil {
			logger.Warn().Err(err).
				Str(log.FieldSessionID, ev.SessionID).
				Str(log.FieldEvent, string(ev.Type)).
				Msg("event publish failed")
		}
		cancel()
	}
}

// close stops intake and waits for the queue to drain.
func (bc *broadcaster) close(ctx context.Context) error {
	bc.mu.Lock()
	if !bc.closed {
		bc.closed = true
		close(bc.ch)
	}
	bc.mu.Unlock()

	select {
	case <-bc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
