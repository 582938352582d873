// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

// Store holds capture records on the observer.
type Store interface {
	Create(ctx context.Context, c *model.Capture) error
	// Get returns (nil, nil) for an unknown id.
	Get(ctx context.Context, id string) (*model.Capture, error)
	// Update applies fn atomically. An error from fn is returned unchanged
	// and nothing is written.
	Update(ctx context.Context, id string, fn func(*model.Capture) error) (*model.Capture, error)
	ListBySession(ctx context.Context, sessionID string) ([]*model.Capture, error)
	Close() error
}

// OpenStore selects a backend: "memory" or "sqlite" (default).
func OpenStore(backend, path string) (Store, error) {
	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return NewSqliteStore(path)
	default:
		return nil, fmt.Errorf("unknown capture store backend: %s", backend)
	}
}

type MemoryStore struct {
	mu       sync.Mutex
	captures map[string]*model.Capture
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{captures: make(map[string]*model.Capture)}
}

func (m *MemoryStore) Create(_ context.Context, c *model.Capture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.captures[c.ID]; ok {
		return model.Conflict("capture.create", "capture %s exists", c.ID)
	}
	m.captures[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*model.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures[id].Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*model.Capture) error) (*model.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.captures[id]
	if !ok {
		return nil, model.NotFound("capture.update", "capture %s not found", id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.captures[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListBySession(_ context.Context, sessionID string) ([]*model.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Capture
	for _, c := range m.captures {
		if c.SessionID == sessionID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// transition moves a capture to state to, enforcing the delivery state
// machine, and applies mutate to the record.
func transition(ctx context.Context, st Store, id string, to model.DeliveryState, at time.Time, mutate func(*model.Capture)) (*model.Capture, error) {
	return st.Update(ctx, id, func(c *model.Capture) error {
		if !model.CaptureTransitionAllowed(c.State, to) {
			return model.InvalidTransition("capture.transition", "capture %s: %s -> %s", c.ID, c.State, to)
		}
		c.State = to
		c.UpdatedAt = at
		if mutate != nil {
			mutate(c)
		}
		return nil
	})
}
