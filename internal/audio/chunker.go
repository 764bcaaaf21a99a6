package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/alnah/mediaforge/internal/ffmpeg"
	"github.com/alnah/mediaforge/internal/format"
	"github.com/alnah/mediaforge/internal/logging"
)

// Chunk caps. Every emitted chunk satisfies both on the accelerated
// timeline, or carries a size-exceeded warning.
const (
	// MaxChunkBytes is the encoded size cap per chunk.
	// The upstream hard cap is 25MB; 18MiB leaves a VBR safety margin.
	MaxChunkBytes = 18 * 1024 * 1024

	// MaxChunkDuration is the accelerated-duration cap per chunk.
	MaxChunkDuration = 20 * time.Minute

	// minEmitDuration is the shortest chunk we will ever emit.
	minEmitDuration = 100 * time.Millisecond

	// minSplitTarget stops the halving loop of the post-cut size
	// enforcement: below this target further halving cannot help.
	minSplitTarget = time.Second
)

// Default silence-aware cutting parameters.
const (
	defaultNoiseDB          = -40.0
	defaultMinSilence       = 500 * time.Millisecond
	defaultSilenceWindow    = 5 * time.Second
	defaultMinChunkDuration = 30 * time.Second
	defaultChunkTime        = 15 * time.Minute
)

// Chunk represents a contiguous slice of the audio, cut on the accelerated
// file but indexed on the original timeline. Immutable after planning; the
// caller owns the chunk files.
type Chunk struct {
	Index         int           // 1-based, contiguous.
	Path          string        // Absolute path to the encoded chunk file.
	StartTime     time.Duration // Start on the original timeline.
	Duration      time.Duration // Length on the original timeline.
	AccelStart    time.Duration // Start on the accelerated timeline.
	AccelDuration time.Duration // Length on the accelerated timeline.
}

// EndTime returns the chunk's end on the original timeline.
func (c Chunk) EndTime() time.Duration {
	return c.StartTime + c.Duration
}

// String returns a human-readable representation for logging.
func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d: %s-%s",
		c.Index,
		format.Duration(c.StartTime),
		format.Duration(c.EndTime()))
}

// Plan is the chunker output: ordered chunks plus planning warnings.
type Plan struct {
	Chunks   []Chunk
	Warnings []string
}

// Planner cuts the accelerated working file into chunks that satisfy both
// the size and the duration cap, snapping boundaries to silences when
// possible.
type Planner struct {
	ffmpegPath string
	exec       *ffmpeg.Executor

	chunkTime        time.Duration // legacy target; used when the caps allow larger slices
	noiseDB          float64
	minSilence       time.Duration
	silenceWindow    time.Duration
	minChunkDuration time.Duration

	log *slog.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlannerExecutor sets the FFmpeg executor (for testing).
func WithPlannerExecutor(e *ffmpeg.Executor) PlannerOption {
	return func(p *Planner) { p.exec = e }
}

// WithChunkTime sets the legacy target chunk duration (accelerated timeline).
func WithChunkTime(d time.Duration) PlannerOption {
	return func(p *Planner) {
		if d > 0 {
			p.chunkTime = d
		}
	}
}

// WithNoiseDB sets the silence detection threshold in dB.
// Lower values (more negative) detect quieter sounds as silence.
func WithNoiseDB(db float64) PlannerOption {
	return func(p *Planner) { p.noiseDB = db }
}

// WithMinSilence sets the minimum silence duration to detect.
func WithMinSilence(d time.Duration) PlannerOption {
	return func(p *Planner) {
		if d > 0 {
			p.minSilence = d
		}
	}
}

// WithSilenceWindow sets the ± window inside which a boundary may snap to
// a silence center.
func WithSilenceWindow(d time.Duration) PlannerOption {
	return func(p *Planner) {
		if d >= 0 {
			p.silenceWindow = d
		}
	}
}

// WithMinChunkDuration sets the minimum chunk length a snapped boundary may
// produce; shorter results fall back to the exact cut position.
func WithMinChunkDuration(d time.Duration) PlannerOption {
	return func(p *Planner) {
		if d > 0 {
			p.minChunkDuration = d
		}
	}
}

// NewPlanner creates a Planner bound to an FFmpeg binary.
func NewPlanner(ffmpegPath string, opts ...PlannerOption) (*Planner, error) {
	if ffmpegPath == "" {
		return nil, fmt.Errorf("ffmpegPath cannot be empty: %w", ffmpeg.ErrNotFound)
	}
	p := &Planner{
		ffmpegPath:       ffmpegPath,
		exec:             ffmpeg.NewExecutor(),
		chunkTime:        defaultChunkTime,
		noiseDB:          defaultNoiseDB,
		minSilence:       defaultMinSilence,
		silenceWindow:    defaultSilenceWindow,
		minChunkDuration: defaultMinChunkDuration,
		log:              logging.ForService("chunker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Plan cuts the accelerated file into chunks and returns them ordered by
// index. Chunk StartTime and Duration are original-timeline values even
// though the physical cut uses accelerated offsets; scaling by
// originalDuration/acceleratedDuration keeps the chunk spans summing to the
// original duration exactly.
func (p *Planner) Plan(
	ctx context.Context,
	acceleratedPath string,
	acceleratedDuration, originalDuration time.Duration,
	originalBytes int64,
	jobDir string,
) (Plan, error) {
	var plan Plan

	if acceleratedDuration <= 0 || originalDuration <= 0 {
		return plan, fmt.Errorf("non-positive duration: %w", ErrChunkingFailed)
	}
	if originalBytes <= 0 {
		return plan, fmt.Errorf("source has no bytes: %w", ErrChunkingFailed)
	}

	n := p.chunkCount(acceleratedDuration, originalBytes)

	boundaries, warnings := p.cutBoundaries(ctx, acceleratedPath, acceleratedDuration, n)
	plan.Warnings = append(plan.Warnings, warnings...)

	chunksDir := filepath.Join(jobDir, "chunks")
	intervals, warnings, err := p.emitIntervals(ctx, acceleratedPath, chunksDir, boundaries)
	if err != nil {
		return plan, err
	}
	plan.Warnings = append(plan.Warnings, warnings...)

	// Map accelerated offsets onto the original timeline. Using the probed
	// duration ratio instead of the nominal speed factor absorbs the small
	// drift the transform validation tolerates.
	scale := float64(originalDuration) / float64(acceleratedDuration)
	for i, iv := range intervals {
		start := time.Duration(float64(iv.start) * scale)
		end := time.Duration(float64(iv.end) * scale)
		if i == len(intervals)-1 {
			end = originalDuration
		}
		plan.Chunks = append(plan.Chunks, Chunk{
			Index:         i + 1,
			Path:          iv.path,
			StartTime:     start,
			Duration:      end - start,
			AccelStart:    iv.start,
			AccelDuration: iv.end - iv.start,
		})
	}

	p.log.Info("chunk plan ready",
		"chunks", len(plan.Chunks),
		"accelerated", format.Duration(acceleratedDuration),
		"bytes", originalBytes)

	return plan, nil
}

// chunkCount computes N from the dual caps plus the legacy chunk-time
// target. Bytes per accelerated second are estimated from the source size:
// the PCM working file is larger, but encoded chunk output tracks source
// compressibility.
func (p *Planner) chunkCount(acceleratedDuration time.Duration, originalBytes int64) int {
	accelSeconds := acceleratedDuration.Seconds()

	minBySize := int(math.Ceil(float64(originalBytes) / float64(MaxChunkBytes)))
	minByDuration := int(math.Ceil(accelSeconds / MaxChunkDuration.Seconds()))

	n := max(minBySize, minByDuration, 1)

	// Prefer the legacy shorter slices when both caps would allow larger.
	if p.chunkTime > 0 && p.chunkTime < MaxChunkDuration {
		n = max(n, int(math.Ceil(accelSeconds/p.chunkTime.Seconds())))
	}

	return n
}

// cutBoundaries returns n+1 strictly increasing accelerated offsets from 0
// to the total duration, snapping interior boundaries to silence centers
// where one lies within the window and neither neighboring slice would drop
// below the minimum chunk length.
func (p *Planner) cutBoundaries(ctx context.Context, acceleratedPath string, total time.Duration, n int) ([]time.Duration, []string) {
	var warnings []string

	var silences []silencePoint
	if n > 1 && p.silenceWindow > 0 {
		var err error
		silences, err = detectSilences(ctx, p.exec, p.ffmpegPath, acceleratedPath, p.noiseDB, p.minSilence)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("silence detection failed (%v), using exact cuts", err))
		}
	}

	ideal := total / time.Duration(n)
	boundaries := make([]time.Duration, 0, n+1)
	boundaries = append(boundaries, 0)

	for i := 1; i < n; i++ {
		target := time.Duration(i) * ideal
		cut := snapToSilence(target, silences, p.silenceWindow)

		// Snap must not shorten either neighbor below the minimum; the
		// exact position always keeps slices at the ideal length.
		prev := boundaries[len(boundaries)-1]
		if cut-prev < p.minChunkDuration || total-cut < p.minChunkDuration {
			cut = target
		}
		if cut >= total {
			cut = target
		}
		// Never emit a degenerate slice.
		if cut-prev < minEmitDuration {
			continue
		}
		boundaries = append(boundaries, cut)
	}

	boundaries = append(boundaries, total)
	return boundaries, warnings
}

// interval is a cut accelerated span with its emitted chunk file.
type interval struct {
	start, end time.Duration
	path       string
}

// emitIntervals cuts each boundary pair into a chunk file, splitting any
// interval whose encoded size exceeds the cap. Splitting halves the span
// recursively; below minSplitTarget the oversized chunk is emitted with a
// warning instead of failing the job.
func (p *Planner) emitIntervals(ctx context.Context, acceleratedPath, chunksDir string, boundaries []time.Duration) ([]interval, []string, error) {
	var out []interval
	var warnings []string

	var emit func(start, end time.Duration) error
	emit = func(start, end time.Duration) error {
		path := filepath.Join(chunksDir, fmt.Sprintf("chunk_%03d.ogg", len(out)+1))
		size, err := p.cutChunk(ctx, acceleratedPath, path, start, end)
		if err != nil {
			return err
		}

		if size > MaxChunkBytes {
			if half := (end - start) / 2; half >= minSplitTarget {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove oversized chunk: %w", err)
				}
				if err := emit(start, start+half); err != nil {
					return err
				}
				return emit(start+half, end)
			}
			warnings = append(warnings, fmt.Sprintf(
				"size-exceeded: chunk %d is %s after re-encode (cap %s); sending anyway",
				len(out)+1, format.Size(size), format.Size(MaxChunkBytes)))
		}

		out = append(out, interval{start: start, end: end, path: path})
		return nil
	}

	for i := 0; i < len(boundaries)-1; i++ {
		if err := emit(boundaries[i], boundaries[i+1]); err != nil {
			for _, iv := range out {
				_ = os.Remove(iv.path) // best-effort cleanup; original error takes precedence
			}
			return nil, nil, err
		}
	}

	return out, warnings, nil
}

// cutChunk extracts [start, end) from the accelerated file, re-encoding to
// OGG Vorbis (16kHz mono, speech-optimized) and returns the encoded size.
func (p *Planner) cutChunk(ctx context.Context, acceleratedPath, chunkPath string, start, end time.Duration) (int64, error) {
	args := []string{
		"-y",
		"-i", acceleratedPath,
		"-ss", ffmpeg.FormatTime(start),
		"-to", ffmpeg.FormatTime(end),
		"-c:a", "libvorbis",
		"-ar", "16000",
		"-ac", "1",
		"-q:a", "2",
		chunkPath,
	}
	if err := p.exec.Run(ctx, p.ffmpegPath, args); err != nil {
		return 0, fmt.Errorf("%w: extract %s: %v", ErrChunkingFailed, chunkPath, err)
	}

	info, err := os.Stat(chunkPath)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", ErrChunkingFailed, chunkPath, err)
	}
	return info.Size(), nil
}
