// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements SessionStore on SQLite. Updates are compare-and-swap
// on the version column; the partial unique index enforces one open session
// per owner.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) migrate() error {
	var current int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		device_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		started_at_ms INTEGER NOT NULL,
		ended_at_ms INTEGER,
		active_since_ms INTEGER,
		accumulated_ms INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_owner
		ON sessions(owner_id) WHERE state != 'STOPPED';
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

const sessionColumns = `id, owner_id, project_id, description, device_id, state,
	started_at_ms, ended_at_ms, active_since_ms, accumulated_ms, version, updated_at_ms`

func (s *SqliteStore) CreateSession(ctx context.Context, rec *model.Session) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.ProjectID, rec.Description, rec.DeviceID, string(rec.State),
		rec.StartedAt.UnixMilli(), msOrNull(rec.EndedAt), msOrNull(rec.ActiveSince),
		rec.AccumulatedMs, rec.Version, rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Conflict("create", "owner %q already has an open session", rec.OwnerID)
		}
		return model.Storage("create", err)
	}
	return nil
}

func (s *SqliteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Storage("get", err)
	}
	return rec, nil
}

func (s *SqliteStore) GetActive(ctx context.Context, ownerID string) (*model.Session, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE owner_id = ? AND state != 'STOPPED'`, ownerID)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Storage("get_active", err)
	}
	return rec, nil
}

// UpdateSession reads, mutates and writes back guarded by the version read.
// A concurrent writer makes the guarded UPDATE miss and yields Conflict.
func (s *SqliteStore) UpdateSession(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	cur, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, model.NotFound("update", "session %q", id)
	}
	readVersion := cur.Version
	if err := fn(cur); err != nil {
		return nil, err
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE sessions SET
		owner_id = ?, project_id = ?, description = ?, device_id = ?, state = ?,
		started_at_ms = ?, ended_at_ms = ?, active_since_ms = ?, accumulated_ms = ?,
		version = ?, updated_at_ms = ?
		WHERE id = ? AND version = ?`,
		cur.OwnerID, cur.ProjectID, cur.Description, cur.DeviceID, string(cur.State),
		cur.StartedAt.UnixMilli(), msOrNull(cur.EndedAt), msOrNull(cur.ActiveSince), cur.AccumulatedMs,
		cur.Version, cur.UpdatedAt.UnixMilli(),
		id, readVersion,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.Conflict("update", "owner %q already has an open session", cur.OwnerID)
		}
		return nil, model.Storage("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, model.Storage("update", err)
	}
	if n == 0 {
		return nil, model.Conflict("update", "session %q changed concurrently", id)
	}
	return cur, nil
}

func (s *SqliteStore) ScanSessions(ctx context.Context, fn func(*model.Session) error) error {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at_ms`)
	if err != nil {
		return model.Storage("scan", err)
	}
	// Drain before invoking callbacks so fn may write to the store.
	var recs []*model.Session
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			_ = rows.Close()
			return model.Storage("scan", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return model.Storage("scan", err)
	}
	_ = rows.Close()

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*model.Session, error) {
	var (
		rec                    model.Session
		state                  string
		startedMs, updatedMs   int64
		endedMs, activeSinceMs sql.NullInt64
	)
	if err := r.Scan(&rec.ID, &rec.OwnerID, &rec.ProjectID, &rec.Description, &rec.DeviceID, &state,
		&startedMs, &endedMs, &activeSinceMs, &rec.AccumulatedMs, &rec.Version, &updatedMs); err != nil {
		return nil, err
	}
	rec.State = model.State(state)
	rec.StartedAt = time.UnixMilli(startedMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	rec.EndedAt = nullMsToTime(endedMs)
	rec.ActiveSince = nullMsToTime(activeSinceMs)
	return &rec, nil
}

func msOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullMsToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
