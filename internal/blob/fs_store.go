// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package blob stores uploaded capture artifacts on the authority.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

const scheme = "blob://"

// Store persists artifacts and addresses them by locator.
type Store interface {
	Put(ctx context.Context, sessionID, captureID string, data []byte) (locator string, err error)
	Get(ctx context.Context, locator string) ([]byte, error)
}

// FSStore lays artifacts out as <root>/<session>/<capture>.
type FSStore struct {
	Root string
}

func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, model.Validation("blob", "root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, model.Storage("blob", fmt.Errorf("create root: %w", err))
	}
	return &FSStore{Root: root}, nil
}

// Locator formats the address of a capture.
func Locator(sessionID, captureID string) string {
	return scheme + sessionID + "/" + captureID
}

// ParseLocator splits a locator produced by Locator.
func ParseLocator(loc string) (sessionID, captureID string, err error) {
	rest, ok := strings.CutPrefix(loc, scheme)
	if !ok {
		return "", "", model.Validation("blob.locator", "unsupported locator %q", loc)
	}
	sessionID, captureID, ok = strings.Cut(rest, "/")
	if !ok || !validSegment(sessionID) || !validSegment(captureID) {
		return "", "", model.Validation("blob.locator", "malformed locator %q", loc)
	}
	return sessionID, captureID, nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func (s *FSStore) Put(ctx context.Context, sessionID, captureID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validSegment(sessionID) || !validSegment(captureID) {
		return "", model.Validation("blob.put", "invalid ids %q/%q", sessionID, captureID)
	}
	dir := filepath.Join(s.Root, sessionID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", model.Storage("blob.put", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, captureID), data, 0o640); err != nil {
		return "", model.Storage("blob.put", err)
	}
	return Locator(sessionID, captureID), nil
}

func (s *FSStore) Get(ctx context.Context, loc string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sessionID, captureID, err := ParseLocator(loc)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Root, sessionID, captureID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.NotFound("blob.get", "no blob at %s", loc)
	}
	if err != nil {
		return nil, model.Storage("blob.get", err)
	}
	return data, nil
}
