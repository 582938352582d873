// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"errors"
	"fmt"
)

// Session store backends.
const (
	BackendMemory = "memory"
	BackendSqlite = "sqlite"
	BackendBadger = "badger"
)

// Backends lists every name OpenSessionStore accepts, default first.
func Backends() []string {
	return []string{BackendSqlite, BackendBadger, BackendMemory}
}

// DefaultFileName is where a backend keeps sessions inside the data dir
// when no explicit path is configured. Memory has none.
func DefaultFileName(backend string) string {
	switch backend {
	case "", BackendSqlite:
		return "sessions.db"
	case BackendBadger:
		return "sessions.badger"
	default:
		return ""
	}
}

// OpenSessionStore opens the session store for backend. An empty backend
// means sqlite, which needs a path because closed sessions must survive a
// restart. An empty badger path runs badger in memory.
func OpenSessionStore(backend, path string) (SessionStore, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		s, err := OpenBadgerStore(path)
		if err != nil {
			return nil, fmt.Errorf("open badger session store: %w", err)
		}
		return s, nil
	case "", BackendSqlite:
		if path == "" {
			return nil, errors.New("sqlite session store needs a path")
		}
		s, err := NewSqliteStore(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want one of %v)", backend, Backends())
	}
}
