// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldOwnerID   = "owner_id"
	FieldCaptureID = "capture_id"
	FieldActionID  = "action_id"
	FieldRequestID = "request_id"
	FieldConnID    = "conn_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldVersion  = "version"
)
