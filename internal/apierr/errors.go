// Package apierr provides shared error sentinels and retry infrastructure
// for HTTP-based API clients and the media pipeline. All provider-specific
// error types are classified into these sentinels at the adapter boundary.
//
// Providers map HTTP status codes to these errors using fmt.Errorf("%s: %w", msg, sentinel).
// Callers check with errors.Is(err, apierr.ErrRateLimit) etc.
package apierr

import "errors"

// Sentinel errors for API interaction failures.
var (
	// ErrRateLimit indicates the API rate limit was exceeded (temporary, retryable).
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrQuotaExceeded indicates the API quota was exceeded (billing issue, not retryable).
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTimeout indicates a request timed out.
	ErrTimeout = errors.New("request timeout")

	// ErrAuthFailed indicates API authentication failed (invalid key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrBadRequest indicates the service rejected the request as invalid (400).
	// Not retryable: the same payload will fail again.
	ErrBadRequest = errors.New("bad request")

	// ErrPayloadTooLarge indicates the service rejected the upload size (413).
	// Not retryable: the chunk must be re-planned, not re-sent.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrServerError indicates a 5xx response from the service (retryable).
	ErrServerError = errors.New("upstream server error")
)

// Sentinel errors for locally-detected content anomalies.
// Both are treated as transient: the model often produces a usable
// response on a re-submission of the same audio.
var (
	// ErrSilentResponse indicates a syntactically valid transcription
	// response that is semantically empty (no segments, or near-empty text
	// for the chunk's duration).
	ErrSilentResponse = errors.New("silent transcription response")

	// ErrHallucination indicates a run of identical segments in the
	// response, the signature of model-side fabrication.
	ErrHallucination = errors.New("hallucinated transcription response")
)

// Sentinel errors for media pipeline failures.
var (
	// ErrValidation indicates a media transform guard tripped
	// (duration mismatch, duplication, corruption). Maps to 422.
	ErrValidation = errors.New("media validation failed")

	// ErrUnsupportedFormat indicates an upload with an extension outside
	// the allowed set. Wrap with the format:
	// fmt.Errorf("unsupported audio format %s: %w", ext, ErrUnsupportedFormat)
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	// ErrFileTooLarge indicates an upload exceeding the configured cap.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNoSegments indicates a job produced no transcript segments at all.
	ErrNoSegments = errors.New("no transcript segments produced")
)

// IsRetryable reports whether an error is transient and worth retrying.
// Rate limits, timeouts, 5xx responses and locally-detected content
// anomalies are retryable; auth, quota, 400 and 413 are not, and neither
// is context cancellation.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrRateLimit),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrServerError),
		errors.Is(err, ErrSilentResponse),
		errors.Is(err, ErrHallucination):
		return true
	}
	return false
}

// IsFatal reports whether an error must not be retried under any schedule.
// Used by the batch coordinator to exclude chunks from global re-attempts.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrAuthFailed)
}
