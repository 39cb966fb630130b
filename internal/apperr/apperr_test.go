package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain error", errors.New("boom"), KindUnknown},
		{"validation", Validation("bad_input", "bad"), KindValidation},
		{"wrapped in fmt", fmt.Errorf("outer: %w", NotFound("gone", "gone")), KindNotFound},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), KindTimeout},
		{"conflict with cause", Conflict("busy", "busy").Wrap(errors.New("row locked")), KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindLockContention, http.StatusConflict},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(Unavailable("redis_down", "redis unreachable")); got != "redis_down" {
		t.Errorf("CodeOf = %q", got)
	}
	if got := CodeOf(errors.New("boom")); got != "internal_error" {
		t.Errorf("CodeOf fallback = %q", got)
	}
}

func TestWrapPreservesUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Timeout("store_timeout", "store timed out").Wrap(cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
}
