package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/alnah/mediaforge/internal/apierr"
	"github.com/alnah/mediaforge/internal/audio"
	"github.com/alnah/mediaforge/internal/logging"
	"github.com/alnah/mediaforge/internal/metrics"
)

// Upstream service limits.
const (
	// maxUploadBytes is the service's hard cap on a single audio payload.
	maxUploadBytes = 25 * 1024 * 1024

	// tinyUploadBytes is the size below which a chunk is suspiciously
	// small; it is submitted anyway with a warning in the logs.
	tinyUploadBytes = 1024
)

// Default retry configuration.
const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 1 * time.Second
	defaultMaxDelay   = 30 * time.Second
)

// audioTranscriber is an internal interface for the transcription API.
// *openai.Client implements this implicitly; tests inject mocks.
type audioTranscriber interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Compile-time interface compliance check.
var _ audioTranscriber = (*openai.Client)(nil)

// Client submits single chunks to the transcription service with a
// per-job disk cache, exponential backoff retries and content sanity
// checks. One Client belongs to one job.
type Client struct {
	client         audioTranscriber
	cache          *Cache
	retry          apierr.RetryConfig
	language       string
	prompt         string
	requestTimeout time.Duration
	log            *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetry sets the retry schedule for transient failures.
func WithRetry(cfg apierr.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// WithLanguage forwards a language hint to the service.
func WithLanguage(lang string) ClientOption {
	return func(c *Client) { c.language = lang }
}

// WithPrompt provides context to improve transcription accuracy,
// e.g. domain vocabulary or expected content.
func WithPrompt(prompt string) ClientOption {
	return func(c *Client) { c.prompt = prompt }
}

// WithRequestTimeout bounds each individual service call.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// NewClient creates a chunk transcription client writing through the given
// per-job cache.
func NewClient(client audioTranscriber, cache *Cache, opts ...ClientOption) *Client {
	c := &Client{
		client: client,
		cache:  cache,
		retry: apierr.RetryConfig{
			MaxRetries: defaultMaxRetries,
			BaseDelay:  defaultBaseDelay,
			MaxDelay:   defaultMaxDelay,
			Jitter:     true,
		},
		log: logging.ForService("transcribe"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe runs a chunk's full attempt sequence: cache check, pre-flight,
// then retried service calls with sanity checks on every response. The
// returned result always preserves the chunk's original-timeline span.
func (c *Client) Transcribe(ctx context.Context, chunk audio.Chunk) ChunkResult {
	result := ChunkResult{ChunkIndex: chunk.Index, Chunk: chunk}

	if resp, ok := c.cache.Load(chunk); ok {
		c.fillSuccess(&result, resp)
		result.FromCache = true
		return result
	}

	if err := c.preflight(chunk); err != nil {
		result.Err = err.Error()
		result.Fatal = true
		return result
	}

	attempts := 0
	resp, err := apierr.RetryWithBackoff(ctx, c.retry, func() (*ServiceResponse, error) {
		attempts++
		return c.attempt(ctx, chunk)
	}, shouldRetry)

	if attempts > 0 {
		result.Retries = attempts - 1
	}
	metrics.TranscriptionRetries.Add(float64(result.Retries))

	if err != nil {
		result.Err = err.Error()
		result.Fatal = apierr.IsFatal(err)
		c.log.Warn("chunk transcription failed",
			"chunk", chunk.Index, "retries", result.Retries, "error", err)
		return result
	}

	if err := c.cache.Store(chunk.Index, resp); err != nil {
		// Cache failures cost a re-transcription on the next global
		// attempt at worst; the successful result still counts.
		c.log.Warn("cache write failed", "chunk", chunk.Index, "error", err)
	}

	c.fillSuccess(&result, resp)
	return result
}

// fillSuccess populates the success fields of a result from a response.
func (c *Client) fillSuccess(result *ChunkResult, resp *ServiceResponse) {
	result.Success = true
	result.Segments = resp.Segments
	result.ReportedDuration = resp.Duration
}

// preflight rejects chunk files the service is guaranteed to refuse.
// Failures here are fatal: no retry schedule can fix them.
func (c *Client) preflight(chunk audio.Chunk) error {
	info, err := os.Stat(chunk.Path)
	if err != nil {
		return fmt.Errorf("chunk %d file missing: %w", chunk.Index, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("chunk %d file is empty", chunk.Index)
	}
	if info.Size() > maxUploadBytes {
		return fmt.Errorf("chunk %d is %d bytes, over the %d byte service cap: %w",
			chunk.Index, info.Size(), maxUploadBytes, apierr.ErrPayloadTooLarge)
	}
	if info.Size() < tinyUploadBytes {
		c.log.Warn("chunk file suspiciously small", "chunk", chunk.Index, "bytes", info.Size())
	}
	return nil
}

// attempt performs one service call and validates its content.
func (c *Client) attempt(ctx context.Context, chunk audio.Chunk) (*ServiceResponse, error) {
	callCtx := ctx
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	req := openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: chunk.Path,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		},
		Language: c.language,
		Prompt:   c.prompt,
	}

	raw, err := c.client.CreateTranscription(callCtx, req)
	if err != nil {
		metrics.TranscriptionCalls.WithLabelValues("error").Inc()
		return nil, classifyError(err)
	}

	resp := fromAudioResponse(&raw)
	if err := checkResponse(resp, chunk); err != nil {
		metrics.TranscriptionCalls.WithLabelValues("rejected").Inc()
		return nil, err
	}

	metrics.TranscriptionCalls.WithLabelValues("ok").Inc()
	return resp, nil
}

// fromAudioResponse converts the provider type into the stable cache shape.
func fromAudioResponse(raw *openai.AudioResponse) *ServiceResponse {
	resp := &ServiceResponse{
		Task:     raw.Task,
		Language: raw.Language,
		Duration: raw.Duration,
		Text:     raw.Text,
	}
	for _, s := range raw.Segments {
		resp.Segments = append(resp.Segments, ServiceSegment{
			ID:    s.ID,
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}
	return resp
}

// classifyError maps provider errors to sentinel errors.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apierr.FromStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", apierr.ErrTimeout)
	}

	return err
}

// shouldRetry treats everything except fatal classifications and caller
// cancellation as transient: network errors, timeouts, 5xx and content
// anomalies all loop back into the schedule.
func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !apierr.IsFatal(err)
}
