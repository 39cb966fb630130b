// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

// ─── Authentication ─────────────────────────────────────────

// Role distinguishes the two caller populations.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	Role Role
	ID   string
}

type contextKey string

const principalKey contextKey = "principal"

// FromContext returns the authenticated principal, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// TokenVerifier resolves a bearer token to a principal. The built-in
// verifier understands "role:id" tokens issued by the dev gateway; a real
// deployment swaps in a verifier backed by the identity service.
type TokenVerifier func(token string) (Principal, bool)

// DevVerifier accepts tokens of the form "rider:<id>" or "driver:<id>".
func DevVerifier(token string) (Principal, bool) {
	role, id, found := strings.Cut(token, ":")
	if !found || id == "" {
		return Principal{}, false
	}
	switch Role(role) {
	case RoleRider, RoleDriver:
		return Principal{Role: Role(role), ID: id}, true
	}
	return Principal{}, false
}

// Auth extracts and verifies the bearer token, rejecting the request with
// 401 when it is missing or invalid.
func Auth(verify TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			p, ok := verify(token)
			if !ok {
				unauthorized(w, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "unauthorized", "message": msg},
	})
}

// ─── Observability ──────────────────────────────────────────

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs method, path, status, and latency for every request.
func RequestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}

// Recoverer converts panics into 500 responses instead of killing the
// connection.
func Recoverer(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]any{
						"error": map[string]string{"code": "internal_error", "message": "internal server error"},
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
