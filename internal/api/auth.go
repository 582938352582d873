// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"net/http"

	"github.com/ManuGH/timetrack/internal/auth"
	"github.com/ManuGH/timetrack/internal/domain/session/model"
	"github.com/ManuGH/timetrack/internal/log"
	"github.com/ManuGH/timetrack/internal/metrics"
)

type ownerKey struct{}

// OwnerFromContext returns the authenticated owner, if any.
func OwnerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ownerKey{}).(string)
	return v
}

// authMiddleware resolves the bearer token to an owner.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.ExtractToken(r)
		if token == "" {
			metrics.IncAPIAuthFailure("missing_token")
			writeError(w, r, model.Auth("api.auth", "missing bearer token"))
			return
		}
		owner, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			metrics.IncAPIAuthFailure("invalid_token")
			if model.KindOf(err) != model.KindAuth {
				err = model.Auth("api.auth", "%v", err)
			}
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		ctx = log.ContextWithOwnerID(ctx, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
