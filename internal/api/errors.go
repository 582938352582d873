// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/log"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k model.Kind) int {
	switch k {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case model.KindAuth:
		return http.StatusUnauthorized
	case model.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err. Internal and storage failures are logged and
// their detail withheld from the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	status := StatusFor(kind)
	msg := err.Error()

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
		kind = model.KindValidation
		msg = "upload exceeds size limit"
	}

	if status >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str(log.FieldEvent, "api.error").
			Str("kind", string(kind)).
			Msg("request failed")
		if kind == model.KindStorage || kind == model.KindInternal {
			msg = "internal error"
		}
	}

	writeJSON(w, status, ErrorBody{
		Code:      string(kind),
		Error:     msg,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// DecodeError rebuilds a typed error from a response body.
func DecodeError(status int, body []byte) *model.Error {
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Code == "" {
		return kindForStatus(status, http.StatusText(status))
	}
	return &model.Error{Kind: model.Kind(eb.Code), Op: "api", Msg: eb.Error}
}

func kindForStatus(status int, msg string) *model.Error {
	k := model.KindInternal
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		k = model.KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		k = model.KindAuth
	case http.StatusNotFound:
		k = model.KindNotFound
	case http.StatusConflict:
		k = model.KindConflict
	case http.StatusUnprocessableEntity:
		k = model.KindInvalidTransition
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		k = model.KindTransport
	}
	return &model.Error{Kind: k, Op: "api", Msg: msg}
}
