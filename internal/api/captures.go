// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/metrics"
)

// Multipart field names of a capture upload.
const (
	FormFile       = "screenshot"
	FormCaptureID  = "captureId"
	FormCapturedAt = "capturedAt"
)

// handleUploadCapture stores a capture for a session owned by the caller.
// Re-uploading a capture id overwrites the stored blob, so client retries
// are idempotent.
func (s *Server) handleUploadCapture(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	receipt, err := s.receiveCapture(w, r, owner, sessionID)
	if err != nil {
		outcome := "rejected"
		var tooLarge *http.MaxBytesError
		if k := model.KindOf(err); (k == model.KindStorage || k == model.KindInternal) && !errors.As(err, &tooLarge) {
			outcome = "error"
		}
		metrics.RecordCaptureReceived(outcome)
		writeError(w, r, err)
		return
	}
	metrics.RecordCaptureReceived("accepted")

	s.sessions.NotifyCaptureDelivered(r.Context(), owner, receipt)
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "capture.received").
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldCaptureID, receipt.CaptureID).
		Int64("size", receipt.Size).
		Msg("capture stored")
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) receiveCapture(w http.ResponseWriter, r *http.Request, owner, sessionID string) (model.CaptureReceipt, error) {
	// Headroom for the multipart envelope and form fields.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+64<<10)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.CaptureReceipt{}, err
		}
		return model.CaptureReceipt{}, model.Validation("capture", "invalid multipart body: %v", err)
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	capturedAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(r.FormValue(FormCapturedAt)))
	if err != nil {
		return model.CaptureReceipt{}, model.Validation("capture", "capturedAt must be RFC 3339")
	}
	captureID := strings.TrimSpace(r.FormValue(FormCaptureID))
	if captureID == "" {
		captureID = uuid.NewString()
	}

	if _, err := s.sessions.AcceptCapture(r.Context(), owner, sessionID, capturedAt); err != nil {
		return model.CaptureReceipt{}, err
	}

	f, _, err := r.FormFile(FormFile)
	if err != nil {
		return model.CaptureReceipt{}, model.Validation("capture", "missing %q file", FormFile)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return model.CaptureReceipt{}, model.Validation("capture", "read upload: %v", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return model.CaptureReceipt{}, &http.MaxBytesError{Limit: s.cfg.MaxUploadBytes}
	}
	if len(data) == 0 {
		return model.CaptureReceipt{}, model.Validation("capture", "empty upload")
	}

	loc, err := s.blobs.Put(r.Context(), sessionID, captureID, data)
	if err != nil {
		return model.CaptureReceipt{}, err
	}
	return model.CaptureReceipt{
		CaptureID:  captureID,
		SessionID:  sessionID,
		CapturedAt: capturedAt.UTC(),
		Size:       int64(len(data)),
		Locator:    loc,
	}, nil
}
