// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

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

// FSStager writes artifacts atomically under Dir.
type FSStager struct {
	Dir string
}

func NewFSStager(dir string) (*FSStager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, model.Validation("stager", "staging dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, model.Storage("stager", fmt.Errorf("create staging dir: %w", err))
	}
	return &FSStager{Dir: dir}, nil
}

func (s *FSStager) Stage(ctx context.Context, captureID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if captureID == "" || strings.ContainsAny(captureID, `/\`) {
		return "", model.Validation("stage", "invalid capture id %q", captureID)
	}
	path := filepath.Join(s.Dir, captureID+".bin")
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", model.Storage("stage", err)
	}
	return path, nil
}

func (s *FSStager) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.Storage("stage.read", err)
	}
	return data, nil
}

func (s *FSStager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return model.Storage("stage.remove", err)
	}
	return nil
}
