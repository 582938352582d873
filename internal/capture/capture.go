// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package capture schedules proof-of-work captures while a session is
// active and drives each one through staging and upload.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

// Artifact is the raw output of one capture.
type Artifact struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// Capturer produces an artifact. Implementations must honor ctx.
type Capturer interface {
	Capture(ctx context.Context) (Artifact, error)
}

// Sealer transforms an artifact before it touches disk, e.g. to encrypt it.
type Sealer interface {
	Seal(ctx context.Context, a Artifact) (Artifact, error)
}

// Stager keeps artifacts on local disk until they are delivered.
type Stager interface {
	Stage(ctx context.Context, captureID string, data []byte) (path string, err error)
	Read(path string) ([]byte, error)
	Remove(path string) error
}

// UploadRequest is one delivery attempt.
type UploadRequest struct {
	SessionID   string
	CaptureID   string
	CapturedAt  time.Time
	ContentType string
	Data        []byte
}

// Uploader sends a capture to the authority and returns its locator.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (locator string, err error)
}

// Config controls slot placement and delivery.
type Config struct {
	// Interval is the window length; PerInterval slots fall in each window.
	Interval    time.Duration
	PerInterval int
	// MaxRetries is the number of failed upload attempts after which a
	// capture is Failed.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// Concurrency caps simultaneous uploads across captures.
	Concurrency int
	// GracePeriod bounds how long deliveries may continue after stop.
	GracePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:       10 * time.Minute,
		PerInterval:    2,
		MaxRetries:     3,
		RetryBaseDelay: 5 * time.Second,
		RetryMaxDelay:  5 * time.Minute,
		Concurrency:    2,
		GracePeriod:    10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("capture interval must be positive, got %s", c.Interval)
	}
	if c.PerInterval < 1 {
		return fmt.Errorf("captures per interval must be at least 1, got %d", c.PerInterval)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max upload retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays invalid: base %s, max %s", c.RetryBaseDelay, c.RetryMaxDelay)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("upload concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace period must not be negative, got %s", c.GracePeriod)
	}
	return nil
}

// Warning reports a non-fatal capture failure. Tracking continues.
type Warning struct {
	SessionID string
	CaptureID string
	Kind      model.Kind
	Err       error
	At        time.Time
}

func (w Warning) String() string {
	if w.CaptureID == "" {
		return fmt.Sprintf("session %s: capture failed: %v", w.SessionID, w.Err)
	}
	return fmt.Sprintf("capture %s (session %s) failed: %v", w.CaptureID, w.SessionID, w.Err)
}
