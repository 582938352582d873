// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store persists session records. Every backend enforces at most one
// non-stopped session per owner and serializes updates per session.
package store

import (
	"context"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

// SessionStore is the authoritative record keeper used by the authority.
type SessionStore interface {
	// CreateSession inserts rec. It returns a Conflict error if the owner
	// already has an open session or the id is taken.
	CreateSession(ctx context.Context, rec *model.Session) error

	// GetSession returns (nil, nil) when the id is unknown.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// GetActive returns the owner's non-stopped session, or (nil, nil).
	GetActive(ctx context.Context, ownerID string) (*model.Session, error)

	// UpdateSession applies fn to a copy of the stored record and persists
	// the result atomically. If fn returns an error nothing is written and
	// that error is returned unchanged. Unknown ids yield NotFound.
	UpdateSession(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error)

	// ScanSessions calls fn for every record. Returning an error from fn
	// stops the scan.
	ScanSessions(ctx context.Context, fn func(*model.Session) error) error

	Close() error
}
