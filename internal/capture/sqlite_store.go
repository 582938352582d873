// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore persists capture records so pending deliveries survive a
// restart of the observer.
type SqliteStore struct {
	DB *sql.DB

	// writeMu serializes read-modify-write cycles.
	writeMu sync.Mutex
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("capture store: migration failed: %w", err)
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
	CREATE TABLE IF NOT EXISTS captures (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		captured_at_ms INTEGER NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		locator TEXT NOT NULL DEFAULT '',
		staged_path TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id, captured_at_ms);
	CREATE INDEX IF NOT EXISTS idx_captures_state ON captures(state);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

const captureColumns = `id, session_id, captured_at_ms, size, state, retry_count,
	locator, staged_path, last_error, metadata, updated_at_ms`

func (s *SqliteStore) Create(ctx context.Context, c *model.Capture) error {
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return model.Validation("capture.create", "%v", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO captures (`+captureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.CapturedAt.UnixMilli(), c.Size, string(c.State), c.RetryCount,
		c.Locator, c.StagedPath, c.LastError, meta, c.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return model.Conflict("capture.create", "capture %s exists", c.ID)
		}
		return model.Storage("capture.create", err)
	}
	return nil
}

func (s *SqliteStore) Get(ctx context.Context, id string) (*model.Capture, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Storage("capture.get", err)
	}
	return c, nil
}

func (s *SqliteStore) Update(ctx context.Context, id string, fn func(*model.Capture) error) (*model.Capture, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, model.NotFound("capture.update", "capture %s not found", id)
	}
	if err := fn(cur); err != nil {
		return nil, err
	}
	meta, err := encodeMetadata(cur.Metadata)
	if err != nil {
		return nil, model.Validation("capture.update", "%v", err)
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE captures SET size = ?, state = ?, retry_count = ?,
		locator = ?, staged_path = ?, last_error = ?, metadata = ?, updated_at_ms = ?
		WHERE id = ?`,
		cur.Size, string(cur.State), cur.RetryCount, cur.Locator, cur.StagedPath,
		cur.LastError, meta, cur.UpdatedAt.UnixMilli(), id,
	)
	if err != nil {
		return nil, model.Storage("capture.update", err)
	}
	return cur, nil
}

func (s *SqliteStore) ListBySession(ctx context.Context, sessionID string) ([]*model.Capture, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+captureColumns+` FROM captures
		WHERE session_id = ? ORDER BY captured_at_ms, id`, sessionID)
	if err != nil {
		return nil, model.Storage("capture.list", err)
	}
	defer rows.Close()

	var out []*model.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, model.Storage("capture.list", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Storage("capture.list", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapture(r rowScanner) (*model.Capture, error) {
	var (
		c          model.Capture
		state      string
		capturedMs int64
		updatedMs  int64
		meta       string
	)
	if err := r.Scan(&c.ID, &c.SessionID, &capturedMs, &c.Size, &state, &c.RetryCount,
		&c.Locator, &c.StagedPath, &c.LastError, &meta, &updatedMs); err != nil {
		return nil, err
	}
	c.State = model.DeliveryState(state)
	c.CapturedAt = time.UnixMilli(capturedMs).UTC()
	c.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &c, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
