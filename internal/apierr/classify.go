package apierr

import (
	"fmt"
	"net/http"
	"strings"
)

// FromStatus maps an HTTP status code and service message to a sentinel
// error. Adapters wrap provider responses through this single point so
// retry decisions stay uniform across clients.
func FromStatus(statusCode int, msg string) error {
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", statusCode)
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		// Distinguish between temporary rate limit and quota exceeded
		// (billing issue). Quota exceeded requires user action.
		if strings.Contains(msg, "quota") || strings.Contains(msg, "billing") {
			return fmt.Errorf("%s: %w", msg, ErrQuotaExceeded)
		}
		return fmt.Errorf("%s: %w", msg, ErrRateLimit)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, ErrAuthFailed)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return fmt.Errorf("%s: %w", msg, ErrTimeout)
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%s: %w", msg, ErrPayloadTooLarge)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w", msg, ErrBadRequest)
	}

	if statusCode >= 500 {
		return fmt.Errorf("%s: %w", msg, ErrServerError)
	}

	return fmt.Errorf("HTTP %d: %s", statusCode, msg)
}
