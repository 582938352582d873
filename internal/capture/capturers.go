// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capture

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxArtifactBytes = 5 << 20

// ExecCapturer runs an external command and keeps its stdout as the
// artifact, e.g. a screenshot tool writing PNG to stdout.
type ExecCapturer struct {
	Argv        []string
	ContentType string
	Timeout     time.Duration
}

func (c ExecCapturer) Capture(ctx context.Context) (Artifact, error) {
	if len(c.Argv) == 0 || strings.TrimSpace(c.Argv[0]) == "" {
		return Artifact{}, errors.New("capture command is empty")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Artifact{}, fmt.Errorf("capture command %q: %w: %s", c.Argv[0], err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return Artifact{}, fmt.Errorf("capture command %q produced no output", c.Argv[0])
	}
	if stdout.Len() > maxArtifactBytes {
		return Artifact{}, fmt.Errorf("capture command %q output exceeds %d bytes", c.Argv[0], maxArtifactBytes)
	}
	ct := c.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return Artifact{
		Data:        stdout.Bytes(),
		ContentType: ct,
		Metadata:    map[string]string{"source": "exec", "command": c.Argv[0]},
	}, nil
}

// PlaceholderCapturer yields a fixed dummy payload. It stands in where no
// real capture tool is configured.
type PlaceholderCapturer struct{}

func (PlaceholderCapturer) Capture(ctx context.Context) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Data:        []byte("dummy screenshot data"),
		ContentType: "image/png",
		Metadata:    map[string]string{"source": "placeholder"},
	}, nil
}

// MetaDigest is the metadata key DigestSealer writes.
const MetaDigest = "sha256"

// DigestSealer stamps the hex SHA-256 of the payload into the metadata so a
// staged file can be checked against what was captured.
type DigestSealer struct{}

func (DigestSealer) Seal(_ context.Context, a Artifact) (Artifact, error) {
	sum := sha256.Sum256(a.Data)
	meta := make(map[string]string, len(a.Metadata)+1)
	for k, v := range a.Metadata {
		meta[k] = v
	}
	meta[MetaDigest] = hex.EncodeToString(sum[:])
	a.Metadata = meta
	return a, nil
}
