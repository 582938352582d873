// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigValidate(t *testing.T) {
	good := writeConfig(t, "capture:\n  intervalMinutes: 5\n")
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, runConfigValidate([]string{"-f", good}, &out, &errOut))
	assert.Contains(t, out.String(), "is valid")

	bad := writeConfig(t, "capture:\n  intervalMinutes: 99\n")
	out.Reset()
	errOut.Reset()
	assert.Equal(t, 1, runConfigValidate([]string{"--file", bad}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Configuration error")
}

func TestConfigDumpMasksTokens(t *testing.T) {
	path := writeConfig(t, "api:\n  tokens:\n    - token: super-secret\n      owner: alice\n")
	var out, errOut bytes.Buffer
	require.Equal(t, 0, runConfigDump([]string{"-f", path}, &out, &errOut), errOut.String())
	assert.NotContains(t, out.String(), "super-secret")
	assert.Contains(t, out.String(), "alice")

	out.Reset()
	assert.Equal(t, 2, runConfigDump([]string{"-f", path, "--format", "toml"}, &out, &errOut))
}
