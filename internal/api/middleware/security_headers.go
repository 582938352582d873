// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"
	"strings"
)

// DefaultCSP fits an API that only returns JSON and never renders markup.
const DefaultCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders hardens API responses. Session bodies reflect state that
// changes under the caller and carry owner identities, so nothing is
// cacheable unless a handler sets its own Cache-Control. HSTS is sent only
// when the request arrived over TLS, directly or through a proxy.
func SecurityHeaders(csp string) func(http.Handler) http.Handler {
	if csp == "" {
		csp = DefaultCSP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
				h.Set("Strict-Transport-Security", "max-age=15552000")
			}
			h.Set("Cache-Control", "no-store")
			h.Set("Content-Security-Policy", csp)
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")

			next.ServeHTTP(w, r)
		})
	}
}
