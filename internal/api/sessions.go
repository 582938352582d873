// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
)

// StartBody is the payload of POST /api/v1/sessions.
type StartBody struct {
	ProjectID   string `json:"projectId,omitempty"`
	Description string `json:"description,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
}

// TransitionBody is the payload of pause, resume and stop.
type TransitionBody struct {
	ExpectedVersion int64 `json:"expectedVersion"`
}

// ActiveResponse wraps the active session; Session is null when idle.
type ActiveResponse struct {
	Session *model.Session `json:"session"`
}

type action int

const (
	actionPause action = iota
	actionResume
	actionStop
)

const maxJSONBody = 64 << 10

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.Validation("decode", "invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body StartBody
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, err)
			return
		}
	}
	sess, err := s.sessions.Start(r.Context(), model.StartRequest{
		OwnerID:     OwnerFromContext(r.Context()),
		ProjectID:   body.ProjectID,
		Description: body.Description,
		DeviceID:    body.DeviceID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleTransition(a action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body TransitionBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		owner := OwnerFromContext(r.Context())
		id := chi.URLParam(r, "id")

		var (
			sess *model.Session
			err  error
		)
		switch a {
		case actionPause:
			sess, err = s.sessions.Pause(r.Context(), owner, id, body.ExpectedVersion)
		case actionResume:
			sess, err = s.sessions.Resume(r.Context(), owner, id, body.ExpectedVersion)
		default:
			sess, err = s.sessions.Stop(r.Context(), owner, id, body.ExpectedVersion)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetActive(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActiveResponse{Session: sess})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), OwnerFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
