// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/timetrack/internal/log"
)

// EnvPrefix namespaces every environment key.
const EnvPrefix = "TIMETRACK_"

func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password")
}

// lookup returns the env value and whether it should override the default.
func lookup(logger zerolog.Logger, key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return "", false
	}
	return v, true
}

func fromEnv(logger zerolog.Logger, key string, value any) {
	evt := logger.Debug().Str("key", key).Str("source", "environment")
	if sensitive(key) {
		evt = evt.Bool("sensitive", true)
	} else {
		evt = evt.Interface("value", value)
	}
	evt.Msg("using environment variable")
}

func invalid(logger zerolog.Logger, key, raw, kind string) {
	logger.Warn().
		Str("key", key).
		Str("value", raw).
		Msgf("invalid %s in environment variable, using default", kind)
}

// ParseString reads a string from the environment or returns defaultValue.
// The source is logged; sensitive values are not.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	fromEnv(logger, key, v)
	return v
}

// ParseInt reads an integer and falls back to defaultValue on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		invalid(logger, key, v, "integer")
		return defaultValue
	}
	fromEnv(logger, key, i)
	return i
}

// ParseInt64 is ParseInt for 64-bit values such as seeds and byte sizes.
func ParseInt64(key string, defaultValue int64) int64 {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		invalid(logger, key, v, "integer")
		return defaultValue
	}
	fromEnv(logger, key, i)
	return i
}

// ParseDuration reads a Go duration (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		invalid(logger, key, v, "duration")
		return defaultValue
	}
	fromEnv(logger, key, d.String())
	return d
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		fromEnv(logger, key, true)
		return true
	case "false", "0", "no":
		fromEnv(logger, key, false)
		return false
	default:
		invalid(logger, key, v, "boolean")
		return defaultValue
	}
}

func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		invalid(logger, key, v, "float")
		return defaultValue
	}
	fromEnv(logger, key, f)
	return f
}

// ParseList splits a comma-separated value, dropping empty items.
func ParseList(key string, defaultValue []string) []string {
	raw := ParseString(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
