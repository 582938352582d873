// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

func TestFSStager_StageReadRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	s, err := NewFSStager(dir)
	require.NoError(t, err)

	path, err := s.Stage(context.Background(), "c1", []byte("shot"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "c1.bin"), path)

	data, err := s.Read(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("shot"), data)

	require.NoError(t, s.Remove(path))
	require.NoError(t, s.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = s.Read(path)
	assert.Equal(t, model.KindStorage, model.KindOf(err))
}

func TestFSStager_RejectsBadInput(t *testing.T) {
	_, err := NewFSStager(" ")
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	s, err := NewFSStager(t.TempDir())
	require.NoError(t, err)
	_, err = s.Stage(context.Background(), "../escape", []byte("x"))
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestExecCapturer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	art, err := ExecCapturer{Argv: []string{"sh", "-c", "printf shot"}, ContentType: "image/png"}.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("shot"), art.Data)
	assert.Equal(t, "image/png", art.ContentType)
	assert.Equal(t, "exec", art.Metadata["source"])

	_, err = ExecCapturer{Argv: []string{"sh", "-c", "exit 3"}}.Capture(context.Background())
	assert.Error(t, err)

	_, err = ExecCapturer{Argv: []string{"sh", "-c", "true"}}.Capture(context.Background())
	assert.ErrorContains(t, err, "no output")

	_, err = ExecCapturer{}.Capture(context.Background())
	assert.Error(t, err)
}

func TestPlaceholderCapturer(t *testing.T) {
	art, err := PlaceholderCapturer{}.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dummy screenshot data", string(art.Data))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = PlaceholderCapturer{}.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDigestSealer(t *testing.T) {
	in := Artifact{Data: []byte("abc"), Metadata: map[string]string{"source": "placeholder"}}
	out, err := DigestSealer{}.Seal(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", out.Metadata[MetaDigest])
	assert.Equal(t, "placeholder", out.Metadata["source"])
	assert.NotContains(t, in.Metadata, MetaDigest, "input metadata is not mutated")
}
