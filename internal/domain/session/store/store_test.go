// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/timetrack/internal/domain/session/lifecycle"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type backendCase struct {
	name string
	open func(t *testing.T) SessionStore
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(t *testing.T) SessionStore { return NewMemoryStore() }},
		{"sqlite", func(t *testing.T) SessionStore {
			s, err := NewSqliteStore(filepath.Join(t.TempDir(), "sessions.sqlite"))
			require.NoError(t, err)
			return s
		}},
		{"badger", func(t *testing.T) SessionStore {
			s, err := OpenBadgerStore(filepath.Join(t.TempDir(), "badger"))
			require.NoError(t, err)
			return s
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s SessionStore)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func newRec(id, owner string) *model.Session {
	return lifecycle.NewSession(id, model.StartRequest{OwnerID: owner, ProjectID: "p"}, t0)
}

func TestStore_CreateAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s SessionStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newRec("s1", "u1")))

		got, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "u1", got.OwnerID)
		assert.Equal(t, model.StateActive, got.State)
		assert.True(t, t0.Equal(got.StartedAt))
		require.NotNil(t, got.ActiveSince)
		assert.Nil(t, got.EndedAt)

		missing, err := s.GetSession(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		active, err := s.GetActive(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, "s1", active.ID)

		none, err := s.GetActive(ctx, "u2")
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestStore_OneOpenSessionPerOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s SessionStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newRec("s1", "u1")))

		err := s.CreateSession(ctx, newRec("s2", "u1"))
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrConflict)

		// Other owners are independent.
		require.NoError(t, s.CreateSession(ctx, newRec("s3", "u2")))

		// Stopping frees the slot.
		_, err = s.UpdateSession(ctx, "s1", func(r *model.Session) error {
			return lifecycle.Apply(r, lifecycle.ActionStop, t0.Add(time.Minute))
		})
		require.NoError(t, err)
		active, err := s.GetActive(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, active)

		require.NoError(t, s.CreateSession(ctx, newRec("s2", "u1")))
	})
}

func TestStore_UpdateSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s SessionStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newRec("s1", "u1")))

		out, err := s.UpdateSession(ctx, "s1", func(r *model.Session) error {
			return lifecycle.Apply(r, lifecycle.ActionPause, t0.Add(90*time.Second))
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatePaused, out.State)
		assert.Equal(t, int64(1), out.Version)

		got, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(90_000), got.AccumulatedMs)
		assert.Nil(t, got.ActiveSince)

		// A rejecting fn leaves the record untouched.
		boom := errors.New("boom")
		_, err = s.UpdateSession(ctx, "s1", func(r *model.Session) error {
			r.Description = "changed"
			return boom
		})
		assert.ErrorIs(t, err, boom)
		got, err = s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, got.Description)

		_, err = s.UpdateSession(ctx, "missing", func(*model.Session) error { return nil })
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

// Concurrent pauses with the same expected version: exactly one wins and
// the version only advances once.
func TestStore_ConcurrentUpdatesSerialize(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s SessionStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newRec("s1", "u1")))

		const n = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateSession(ctx, "s1", func(r *model.Session) error {
					if r.Version != 0 {
						return model.Conflict("pause", "version moved")
					}
					return lifecycle.Apply(r, lifecycle.ActionPause, t0.Add(time.Minute))
				})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, model.ErrConflict)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		got, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
	})
}

func TestStore_ScanSessions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s SessionStore) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.CreateSession(ctx, newRec(id, "owner-"+id)))
		}
		seen := map[string]bool{}
		require.NoError(t, s.ScanSessions(ctx, func(r *model.Session) error {
			seen[r.ID] = true
			return nil
		}))
		assert.Len(t, seen, 3)

		stop := errors.New("stop")
		count := 0
		err := s.ScanSessions(ctx, func(*model.Session) error {
			count++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, count)
	})
}

func TestStore_ScanCallbackMayWrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s SessionStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateSession(ctx, newRec("s1", "u1")))
		require.NoError(t, s.ScanSessions(ctx, func(r *model.Session) error {
			_, err := s.UpdateSession(ctx, r.ID, func(r *model.Session) error {
				return lifecycle.Apply(r, lifecycle.ActionStop, t0.Add(time.Minute))
			})
			return err
		}))
		got, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, model.StateStopped, got.State)
	})
}

func TestSqliteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.sqlite")
	s, err := NewSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateSession(context.Background(), newRec("s1", "u1")))
	require.NoError(t, s.Close())

	s, err = NewSqliteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.GetActive(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ID)
}

func TestOpenSessionStore(t *testing.T) {
	s, err := OpenSessionStore("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = OpenSessionStore("", filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	assert.IsType(t, &SqliteStore{}, s)
	require.NoError(t, s.Close())

	s, err = OpenSessionStore("badger", "")
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, s)
	require.NoError(t, s.Close())

	_, err = OpenSessionStore("bolt", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want one of")

	s, err = OpenSessionStore(BackendSqlite, "")
	assert.Error(t, err, "sqlite without a path would lose sessions on restart")
	assert.Nil(t, s)
}

func TestDefaultFileName(t *testing.T) {
	assert.Equal(t, "sessions.db", DefaultFileName(""))
	assert.Equal(t, "sessions.db", DefaultFileName(BackendSqlite))
	assert.Equal(t, "sessions.badger", DefaultFileName(BackendBadger))
	assert.Empty(t, DefaultFileName(BackendMemory))
	assert.Equal(t, BackendSqlite, Backends()[0])
}
