package middleware

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDevVerifier(t *testing.T) {
	tests := []struct {
		token    string
		wantOK   bool
		wantRole Role
		wantID   string
	}{
		{"rider:abc-123", true, RoleRider, "abc-123"},
		{"driver:d-9", true, RoleDriver, "d-9"},
		{"admin:x", false, "", ""},
		{"rider:", false, "", ""},
		{"garbage", false, "", ""},
		{"", false, "", ""},
	}
	for _, tt := range tests {
		p, ok := DevVerifier(tt.token)
		if ok != tt.wantOK {
			t.Errorf("DevVerifier(%q) ok = %v, want %v", tt.token, ok, tt.wantOK)
			continue
		}
		if ok && (p.Role != tt.wantRole || p.ID != tt.wantID) {
			t.Errorf("DevVerifier(%q) = %+v", tt.token, p)
		}
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(DevVerifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rides/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthAttachesPrincipal(t *testing.T) {
	var got Principal
	handler := Auth(DevVerifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rides/x", nil)
	req.Header.Set("Authorization", "Bearer rider:r-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got.Role != RoleRider || got.ID != "r-42" {
		t.Errorf("principal = %+v", got)
	}
}

func TestRecovererConvertsPanics(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	handler := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rides/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
