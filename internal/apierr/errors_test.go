package apierr_test

// Coverage Notes:
// - Tests verify sentinel error identity and wrapping with errors.Is.
// - Tests verify the retryable/fatal partition used by the transcription client.
// - Tests verify HTTP status classification for every status the upstream emits.

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/alnah/mediaforge/internal/apierr"
)

// ---------------------------------------------------------------------------
// TestSentinelErrorWrapping - wrapped errors still match with errors.Is
// ---------------------------------------------------------------------------

func TestSentinelErrorWrapping(t *testing.T) {
	t.Parallel()

	sentinels := []struct {
		name     string
		sentinel error
	}{
		{"ErrRateLimit", apierr.ErrRateLimit},
		{"ErrQuotaExceeded", apierr.ErrQuotaExceeded},
		{"ErrTimeout", apierr.ErrTimeout},
		{"ErrAuthFailed", apierr.ErrAuthFailed},
		{"ErrBadRequest", apierr.ErrBadRequest},
		{"ErrPayloadTooLarge", apierr.ErrPayloadTooLarge},
		{"ErrServerError", apierr.ErrServerError},
		{"ErrSilentResponse", apierr.ErrSilentResponse},
		{"ErrHallucination", apierr.ErrHallucination},
		{"ErrValidation", apierr.ErrValidation},
		{"ErrNoSegments", apierr.ErrNoSegments},
	}

	for _, tt := range sentinels {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			wrapped := fmt.Errorf("some context: %w", tt.sentinel)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(wrapped, %v) = false, want true", tt.sentinel)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestIsRetryable / TestIsFatal - partition of the sentinel space
// ---------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", apierr.ErrRateLimit, true},
		{"timeout", apierr.ErrTimeout, true},
		{"server error", apierr.ErrServerError, true},
		{"silent response", apierr.ErrSilentResponse, true},
		{"hallucination", apierr.ErrHallucination, true},
		{"wrapped server error", fmt.Errorf("chunk 3: %w", apierr.ErrServerError), true},
		{"bad request", apierr.ErrBadRequest, false},
		{"payload too large", apierr.ErrPayloadTooLarge, false},
		{"quota exceeded", apierr.ErrQuotaExceeded, false},
		{"auth failed", apierr.ErrAuthFailed, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := apierr.IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad request", apierr.ErrBadRequest, true},
		{"payload too large", apierr.ErrPayloadTooLarge, true},
		{"quota exceeded", apierr.ErrQuotaExceeded, true},
		{"auth failed", apierr.ErrAuthFailed, true},
		{"server error", apierr.ErrServerError, false},
		{"timeout", apierr.ErrTimeout, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := apierr.IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestFromStatus - HTTP status to sentinel mapping
// ---------------------------------------------------------------------------

func TestFromStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		msg      string
		sentinel error
	}{
		{"429 rate limit", http.StatusTooManyRequests, "slow down", apierr.ErrRateLimit},
		{"429 quota", http.StatusTooManyRequests, "insufficient quota", apierr.ErrQuotaExceeded},
		{"429 billing", http.StatusTooManyRequests, "billing hard limit reached", apierr.ErrQuotaExceeded},
		{"401 auth", http.StatusUnauthorized, "bad key", apierr.ErrAuthFailed},
		{"403 auth", http.StatusForbidden, "forbidden", apierr.ErrAuthFailed},
		{"408 timeout", http.StatusRequestTimeout, "", apierr.ErrTimeout},
		{"504 timeout", http.StatusGatewayTimeout, "", apierr.ErrTimeout},
		{"413 payload", http.StatusRequestEntityTooLarge, "file too big", apierr.ErrPayloadTooLarge},
		{"400 bad request", http.StatusBadRequest, "invalid file format", apierr.ErrBadRequest},
		{"500 server", http.StatusInternalServerError, "", apierr.ErrServerError},
		{"502 server", http.StatusBadGateway, "", apierr.ErrServerError},
		{"503 server", http.StatusServiceUnavailable, "", apierr.ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := apierr.FromStatus(tt.status, tt.msg)
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("FromStatus(%d, %q) = %v, want errors.Is %v", tt.status, tt.msg, err, tt.sentinel)
			}
		})
	}
}
