/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// Middleware authenticates the Authorization bearer token and stores its
// claims on the request context. Query string tokens are ignored so they
// never end up in access logs.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny(w, http.StatusUnauthorized)
				return
			}
			claims, err := Parse(secret, raw)
			if err != nil {
				deny(w, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole admits requests whose claims carry at least one of roles.
// It must run after Middleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			switch {
			case !ok:
				deny(w, http.StatusUnauthorized)
			case !claims.HasRole(roles...):
				deny(w, http.StatusForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// deny writes the same {"error": code} body the API uses.
func deny(w http.ResponseWriter, status int) {
	body := `{"error":"forbidden"}`
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
		body = `{"error":"unauthorized"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func bearerToken(header string) (string, bool) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
