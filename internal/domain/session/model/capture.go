// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// DeliveryState is the delivery lifecycle of a capture.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "PENDING"
	DeliveryUploading DeliveryState = "UPLOADING"
	DeliveryDelivered DeliveryState = "DELIVERED"
	DeliveryFailed    DeliveryState = "FAILED"
)

// IsFinal returns true once the capture is immutable.
func (d DeliveryState) IsFinal() bool {
	return d == DeliveryDelivered || d == DeliveryFailed
}

// CaptureTransitionAllowed encodes
// Pending -> Uploading -> {Delivered | Uploading (retry) | Failed}.
// Pending -> Failed covers local staging failures.
func CaptureTransitionAllowed(from, to DeliveryState) bool {
	switch from {
	case DeliveryPending:
		return to == DeliveryUploading || to == DeliveryFailed
	case DeliveryUploading:
		return to == DeliveryUploading || to == DeliveryDelivered || to == DeliveryFailed
	default:
		return false
	}
}

// Capture is one proof-of-work artifact produced while a session runs.
type Capture struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"sessionId"`
	CapturedAt time.Time         `json:"capturedAt"`
	Size       int64             `json:"size"`
	State      DeliveryState     `json:"state"`
	RetryCount int               `json:"retryCount"`
	Locator    string            `json:"locator,omitempty"`
	StagedPath string            `json:"stagedPath,omitempty"`
	LastError  string            `json:"lastError,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy.
func (c *Capture) Clone() *Capture {
	if c == nil {
		return nil
	}
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// CaptureReceipt is what the authority announces once a capture is stored.
type CaptureReceipt struct {
	CaptureID  string    `json:"captureId"`
	SessionID  string    `json:"sessionId"`
	CapturedAt time.Time `json:"capturedAt"`
	Size       int64     `json:"size"`
	Locator    string    `json:"locator"`
}
