// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	SessionIDKey      = "session.id"
	SessionStateKey   = "session.state"
	SessionVersionKey = "session.version"
	SessionActionKey  = "session.action"

	CaptureIDKey      = "capture.id"
	CaptureAttemptKey = "capture.attempt"
	CaptureSizeKey    = "capture.size"

	ChannelActionIDKey = "channel.action_id"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SessionAttributes describes a session after an operation. Owner ids are
// not recorded.
func SessionAttributes(id, state string, version int64) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if id != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, id))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(SessionStateKey, state))
	}
	return append(attrs, attribute.Int64(SessionVersionKey, version))
}

func CaptureAttributes(id string, attempt int, size int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CaptureIDKey, id),
		attribute.Int(CaptureAttemptKey, attempt),
		attribute.Int64(CaptureSizeKey, size),
	}
}

func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
