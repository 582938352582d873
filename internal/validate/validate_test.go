// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorAccumulates(t *testing.T) {
	v := New()
	v.Range("interval", 31, 1, 30)
	v.Range("perInterval", 5, 1, 10)
	v.URL("url", "ftp://host", []string{"http", "https"})
	v.URL("empty", "", nil)
	v.OneOf("backend", "mongo", []string{"memory", "sqlite"})
	v.PositiveDuration("delay", 0)
	v.NonNegativeDuration("maxAge", 0)
	v.FloatRange("jitter", 1.5, 0, 1)
	v.LogLevel("logLevel", "verbose")
	v.LogLevel("logLevel", "")

	require.False(t, v.IsValid())
	err := v.Err()
	require.Error(t, err)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	fields := make([]string, 0, len(ve.Errors()))
	for _, e := range ve.Errors() {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"interval", "url", "empty", "backend", "delay", "jitter", "logLevel"}, fields)
	assert.Contains(t, err.Error(), "value must be between 1 and 30, got 31")
}

func TestValidatorValid(t *testing.T) {
	v := New()
	v.URL("url", "wss://example.com/ws", []string{"ws", "wss"})
	v.Positive("n", 1)
	v.NonNegative("m", 0)
	v.NotEmpty("s", "x")
	v.PositiveDuration("d", time.Second)
	assert.True(t, v.IsValid())
	assert.NoError(t, v.Err())
}
