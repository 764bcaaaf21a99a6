package transcribe

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alnah/mediaforge/internal/audio"
	"github.com/alnah/mediaforge/internal/logging"
	"github.com/alnah/mediaforge/internal/metrics"
)

// Batch coordination defaults.
const (
	defaultConcurrency    = 4
	defaultGlobalAttempts = 3
)

// chunkTranscriber is an internal interface for single-chunk transcription.
// *Client implements this implicitly; tests inject mocks.
type chunkTranscriber interface {
	Transcribe(ctx context.Context, chunk audio.Chunk) ChunkResult
}

// Compile-time interface compliance check.
var _ chunkTranscriber = (*Client)(nil)

// Batch fans a job's chunks out over a bounded worker pool, then re-runs
// the chunks that failed with transient errors in up to two more global
// passes. Fatal chunks are never re-run.
type Batch struct {
	client         chunkTranscriber
	concurrency    int
	globalAttempts int
	waitFn         func(attempt int) time.Duration
	log            *slog.Logger
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithConcurrency caps the number of chunks in flight at once.
func WithConcurrency(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithGlobalAttempts sets how many whole-batch passes are made over the
// chunks that keep failing with transient errors.
func WithGlobalAttempts(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.globalAttempts = n
		}
	}
}

// WithGlobalWait overrides the pause before each global re-run pass.
func WithGlobalWait(fn func(attempt int) time.Duration) BatchOption {
	return func(b *Batch) {
		if fn != nil {
			b.waitFn = fn
		}
	}
}

// NewBatch creates a batch coordinator around a single-chunk transcriber.
func NewBatch(client chunkTranscriber, opts ...BatchOption) *Batch {
	b := &Batch{
		client:         client,
		concurrency:    defaultConcurrency,
		globalAttempts: defaultGlobalAttempts,
		waitFn: func(attempt int) time.Duration {
			return time.Duration(attempt) * 3 * time.Second
		},
		log: logging.ForService("transcribe"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TranscribeAll processes every chunk and returns one result per chunk in
// chunk order. Individual failures do not abort the batch: a failed chunk
// surfaces as an unsuccessful result and the job decides what that means.
// The only error returned is caller cancellation.
func (b *Batch) TranscribeAll(ctx context.Context, chunks []audio.Chunk) ([]ChunkResult, error) {
	results := make([]ChunkResult, len(chunks))

	pending := make([]int, len(chunks))
	for i := range chunks {
		pending[i] = i
	}

	for attempt := 1; attempt <= b.globalAttempts && len(pending) > 0; attempt++ {
		if attempt > 1 {
			b.log.Info("re-running failed chunks",
				"attempt", attempt, "remaining", len(pending))
			if err := sleepCtx(ctx, b.waitFn(attempt-1)); err != nil {
				return results, err
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.concurrency)
		for _, pos := range pending {
			g.Go(func() error {
				results[pos] = b.client.Transcribe(gctx, chunks[pos])
				return nil
			})
		}
		// Workers never return errors; Wait only orders the writes above.
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return results, err
		}

		var still []int
		for _, pos := range pending {
			r := results[pos]
			if !r.Success && !r.Fatal {
				still = append(still, pos)
			}
		}
		pending = still
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		metrics.ChunksFailed.Add(float64(failed))
		b.log.Warn("batch finished with failed chunks",
			"failed", failed, "total", len(chunks))
	}

	return results, nil
}

// sleepCtx pauses for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
