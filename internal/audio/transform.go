// Package audio implements the media half of the transcription pipeline:
// the tempo transform that produces the accelerated working file, and the
// chunk planner that cuts it into transcribable pieces.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/alnah/mediaforge/internal/apierr"
	"github.com/alnah/mediaforge/internal/ffmpeg"
	"github.com/alnah/mediaforge/internal/format"
	"github.com/alnah/mediaforge/internal/logging"
)

// Transform validation thresholds.
const (
	// durationTolerance is the allowed relative error between the
	// accelerated file's actual and expected duration.
	durationTolerance = 0.05

	// duplicationFactor flags outputs so much longer than expected that
	// the source probably contained concatenated duplicates.
	duplicationFactor = 1.9

	// corruptionFactor flags outputs so much shorter than expected that
	// the transform must have truncated the audio.
	corruptionFactor = 0.5

	// longSourceWarning is the source duration above which we warn that
	// processing will be slow and chunk counts high.
	longSourceWarning = 2 * time.Hour

	// loopPeriod and loopTolerance detect sources whose duration sits just
	// past a 30-minute multiple, a pattern seen in looped screen recordings.
	loopPeriod    = 30 * time.Minute
	loopTolerance = time.Minute

	// encodeStopGrace is how long a cancelled encode may take to finalize
	// its container before being killed.
	encodeStopGrace = 5 * time.Second
)

// acceleratedFileName is the PCM working file inside the job directory.
// Uncompressed so that chunk cuts are sample-accurate; only the per-chunk
// encode is lossy.
const acceleratedFileName = "accelerated.wav"

// TransformResult holds the outputs of the tempo transform.
type TransformResult struct {
	AcceleratedPath     string
	AcceleratedDuration time.Duration
	OriginalDuration    time.Duration
	OriginalBytes       int64
	Warnings            []string
}

// Transformer applies a tempo filter to source audio and validates the result.
type Transformer struct {
	ffmpegPath string
	exec       *ffmpeg.Executor
	log        *slog.Logger
}

// TransformerOption configures a Transformer.
type TransformerOption func(*Transformer)

// WithTransformerExecutor sets the FFmpeg executor (for testing).
func WithTransformerExecutor(e *ffmpeg.Executor) TransformerOption {
	return func(t *Transformer) { t.exec = e }
}

// NewTransformer creates a Transformer bound to an FFmpeg binary.
func NewTransformer(ffmpegPath string, opts ...TransformerOption) (*Transformer, error) {
	if ffmpegPath == "" {
		return nil, fmt.Errorf("ffmpegPath cannot be empty: %w", ffmpeg.ErrNotFound)
	}
	t := &Transformer{
		ffmpegPath: ffmpegPath,
		exec:       ffmpeg.NewExecutor(),
		log:        logging.ForService("transform"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ProcessAudio applies a tempo change of the given factor to inputPath,
// writing an uncompressed PCM working file into jobDir. The returned result
// carries the original file's probed metadata and any informational warnings.
func (t *Transformer) ProcessAudio(ctx context.Context, inputPath, jobDir string, factor float64) (TransformResult, error) {
	var res TransformResult

	if factor <= 0 || factor > 3.0 {
		return res, fmt.Errorf("speed factor %.2f outside (0, 3]: %w", factor, ErrInvalidSpeedFactor)
	}

	source, err := t.exec.Probe(ctx, t.ffmpegPath, inputPath)
	if err != nil {
		return res, fmt.Errorf("probe source: %w", err)
	}
	res.OriginalDuration = source.Duration
	res.OriginalBytes = source.Size

	res.Warnings = append(res.Warnings, sourceWarnings(source.Duration)...)

	outPath := filepath.Join(jobDir, acceleratedFileName)
	args := []string{
		"-y",
		"-i", inputPath,
		"-filter:a", atempoChain(factor),
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outPath,
	}
	// Graceful stop keeps the container valid if the job is cancelled
	// mid-encode.
	if err := t.exec.RunGraceful(ctx, t.ffmpegPath, args, encodeStopGrace); err != nil {
		return res, fmt.Errorf("%w: %v", ErrTransformFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	out, err := t.exec.Probe(ctx, t.ffmpegPath, outPath)
	if err != nil {
		return res, fmt.Errorf("probe accelerated output: %w", err)
	}
	res.AcceleratedPath = outPath
	res.AcceleratedDuration = out.Duration

	if err := validateTransform(source.Duration, out.Duration, out.Size, factor); err != nil {
		return res, err
	}

	t.log.Info("audio accelerated",
		"factor", factor,
		"original", format.Duration(source.Duration),
		"accelerated", format.Duration(out.Duration))

	return res, nil
}

// validateTransform enforces the duration-accuracy, duplication and
// corruption guards on the accelerated output.
func validateTransform(original, actual time.Duration, outSize int64, factor float64) error {
	expected := time.Duration(float64(original) / factor)
	if expected <= 0 {
		return fmt.Errorf("source has no duration: %w", apierr.ErrValidation)
	}

	if outSize == 0 {
		return fmt.Errorf("accelerated file is empty: %w", apierr.ErrValidation)
	}

	drift := math.Abs(float64(actual-expected)) / float64(expected)
	if drift <= durationTolerance {
		return nil
	}

	switch {
	case float64(actual) > duplicationFactor*float64(expected):
		return fmt.Errorf("Duration mismatch: accelerated file is %s, expected %s; source may contain concatenated duplicates: %w",
			format.Duration(actual), format.Duration(expected), apierr.ErrValidation)
	case float64(actual) < corruptionFactor*float64(expected):
		return fmt.Errorf("Duration mismatch: accelerated file is %s, expected %s; output is corrupted: %w",
			format.Duration(actual), format.Duration(expected), apierr.ErrValidation)
	default:
		return fmt.Errorf("Duration mismatch: accelerated file is %s, expected %s (drift %.1f%%): %w",
			format.Duration(actual), format.Duration(expected), drift*100, apierr.ErrValidation)
	}
}

// sourceWarnings returns informational warnings about suspicious sources.
// The job still runs; these surface in the final result.
func sourceWarnings(original time.Duration) []string {
	var warnings []string
	if original > longSourceWarning {
		warnings = append(warnings, fmt.Sprintf(
			"source is %s long; processing will take a while", format.Duration(original)))
	}
	if rem := original % loopPeriod; original >= loopPeriod && rem < loopTolerance {
		warnings = append(warnings, fmt.Sprintf(
			"source duration %s sits on a 30-minute multiple; check the upload for looped content",
			format.Duration(original)))
	}
	return warnings
}

// atempoChain builds the FFmpeg audio filter for a tempo factor.
// A single atempo stage only accepts [0.5, 2.0], so larger factors are
// decomposed into a chain of stages whose product is the factor.
func atempoChain(factor float64) string {
	if factor <= 2.0 {
		return fmt.Sprintf("atempo=%.6f", factor)
	}
	// First stage at the 2.0 maximum, remainder in a second stage.
	return fmt.Sprintf("atempo=2.0,atempo=%.6f", factor/2.0)
}

// EnsureJobDir creates the per-job working layout: the job directory itself
// plus chunks/ and transcripts/ subdirectories.
func EnsureJobDir(jobDir string) error {
	for _, d := range []string{jobDir, filepath.Join(jobDir, "chunks"), filepath.Join(jobDir, "transcripts")} {
		if err := os.MkdirAll(d, 0o750); err != nil { // #nosec G301 -- server working dir
			return fmt.Errorf("create job dir %s: %w", d, err)
		}
	}
	return nil
}
