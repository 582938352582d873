// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"sync"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

// MemoryStore is an in-process SessionStore for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	open     map[string]string // owner -> session id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		open:     make(map[string]string),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, rec *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[rec.ID]; ok {
		return model.Conflict("create", "session %q already exists", rec.ID)
	}
	if id, ok := m.open[rec.OwnerID]; ok {
		return model.Conflict("create", "owner %q already has open session %q", rec.OwnerID, id)
	}
	m.sessions[rec.ID] = rec.Clone()
	if rec.State != model.StateStopped {
		m.open[rec.OwnerID] = rec.ID
	}
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id].Clone(), nil
}

func (m *MemoryStore) GetActive(ctx context.Context, ownerID string) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.open[ownerID]
	if !ok {
		return nil, nil
	}
	return m.sessions[id].Clone(), nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[id]
	if !ok {
		return nil, model.NotFound("update", "session %q", id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.sessions[id] = next
	if next.State == model.StateStopped {
		if m.open[next.OwnerID] == id {
			delete(m.open, next.OwnerID)
		}
	}
	return next.Clone(), nil
}

// ScanSessions snapshots the records before invoking fn so slow callbacks
// do not hold the lock.
func (m *MemoryStore) ScanSessions(ctx context.Context, fn func(*model.Session) error) error {
	m.mu.RLock()
	snap := make([]*model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snap = append(snap, s.Clone())
	}
	m.mu.RUnlock()

	for _, s := range snap {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
