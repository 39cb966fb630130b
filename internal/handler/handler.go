// Package handler exposes the HTTP API. Handlers validate shape, resolve
// the caller, delegate to services, and translate errors to statuses; all
// business rules live below this layer.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/veloride/veloride/internal/apperr"
	"github.com/veloride/veloride/internal/middleware"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, logger *log.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	msg := "internal server error"
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Message
	} else if kind == apperr.KindTimeout {
		msg = "request timed out"
	}
	if status >= 500 {
		logger.Printf("request failed (%d): %v", status, err)
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Code: apperr.CodeOf(err), Message: msg}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: errorBody{Code: "invalid_body", Message: "malformed JSON body"},
		})
		return false
	}
	return true
}

// requireRole resolves the caller and enforces their role, writing the
// error response itself on failure.
func requireRole(w http.ResponseWriter, r *http.Request, role middleware.Role) (middleware.Principal, bool) {
	p, ok := middleware.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: errorBody{Code: "unauthorized", Message: "authentication required"},
		})
		return middleware.Principal{}, false
	}
	if p.Role != role {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: errorBody{Code: "wrong_role", Message: "endpoint requires role " + string(role)},
		})
		return middleware.Principal{}, false
	}
	return p, true
}
