// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import "errors"

var (
	// ErrMissingServer is returned when a manager is created without an HTTP server.
	ErrMissingServer = errors.New("http server is required")

	// ErrManagerStarted is returned when Start is called twice.
	ErrManagerStarted = errors.New("manager already started")

	// ErrManagerNotStarted is returned when trying to shutdown a manager that hasn't started
	ErrManagerNotStarted = errors.New("manager not started")

	// ErrStoreIntegrity is returned when the session database fails its startup check.
	ErrStoreIntegrity = errors.New("session store failed integrity check")
)
