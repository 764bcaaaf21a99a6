// Package video post-processes uploaded media with ffmpeg: burning
// subtitles into a video, or animating a still image with a slow zoom.
package video

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alnah/mediaforge/internal/apierr"
	"github.com/alnah/mediaforge/internal/ffmpeg"
	"github.com/alnah/mediaforge/internal/logging"
	"github.com/alnah/mediaforge/internal/metrics"
)

// Processing modes.
const (
	ModeSubtitles = "subtitles"
	ModeZoom      = "zoom"
)

// Zoom parameters.
const (
	defaultZoomSeconds = 5
	minZoomSeconds     = 1
	maxZoomSeconds     = 60

	// zoomFPS and zoomIncrement give a slow push-in; at 25 fps the zoom
	// reaches about 1.5x after 5 seconds.
	zoomFPS       = 25
	zoomIncrement = 0.004
)

// renderStopGrace is how long a cancelled render may take to finalize its
// container before being killed.
const renderStopGrace = 5 * time.Second

// Result points at the produced video file.
type Result struct {
	ID         string `json:"id"`
	OutputPath string `json:"outputPath"`
}

// Processor runs the video operations. It shares the ffmpeg executor style
// of the audio pipeline and is safe for concurrent use.
type Processor struct {
	ffmpegPath string
	outputRoot string
	exec       *ffmpeg.Executor
	log        *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithExecutor replaces the ffmpeg executor, for tests.
func WithExecutor(exec *ffmpeg.Executor) Option {
	return func(p *Processor) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// NewProcessor creates a video processor writing under outputRoot.
func NewProcessor(ffmpegPath, outputRoot string, opts ...Option) (*Processor, error) {
	if ffmpegPath == "" {
		return nil, fmt.Errorf("ffmpegPath cannot be empty: %w", ffmpeg.ErrNotFound)
	}
	p := &Processor{
		ffmpegPath: ffmpegPath,
		outputRoot: outputRoot,
		exec:       ffmpeg.NewExecutor(),
		log:        logging.ForService("video"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// BurnSubtitles renders the SRT file onto the video and stores the result
// as outputRoot/{id}/video.mp4.
func (p *Processor) BurnSubtitles(ctx context.Context, videoPath, srtPath string) (*Result, error) {
	for _, path := range []string{videoPath, srtPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("input %s: %w", filepath.Base(path), err)
		}
	}

	id := uuid.NewString()
	outPath, err := p.outputFile(id)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-i", videoPath,
		"-vf", "subtitles=" + escapeFilterPath(srtPath),
		"-c:a", "copy",
		"-y", outPath,
	}
	if err := p.exec.RunGraceful(ctx, p.ffmpegPath, args, renderStopGrace); err != nil {
		metrics.VideosProcessed.WithLabelValues(ModeSubtitles, "error").Inc()
		return nil, fmt.Errorf("burn subtitles: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics.VideosProcessed.WithLabelValues(ModeSubtitles, "ok").Inc()
	p.log.Info("subtitles burned", "id", id, "video", filepath.Base(videoPath))
	return &Result{ID: id, OutputPath: outPath}, nil
}

// Zoom animates a still image into a video with a slow push-in.
// Durations outside [1, 60] seconds are rejected; zero means the default.
func (p *Processor) Zoom(ctx context.Context, imagePath string, duration time.Duration) (*Result, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("input %s: %w", filepath.Base(imagePath), err)
	}
	seconds := int(duration.Seconds())
	if duration == 0 {
		seconds = defaultZoomSeconds
	}
	if seconds < minZoomSeconds || seconds > maxZoomSeconds {
		return nil, fmt.Errorf("zoom duration %ds outside [%d, %d]: %w",
			seconds, minZoomSeconds, maxZoomSeconds, apierr.ErrValidation)
	}

	id := uuid.NewString()
	outPath, err := p.outputFile(id)
	if err != nil {
		return nil, err
	}

	frames := seconds * zoomFPS
	filter := fmt.Sprintf(
		"zoompan=z='min(zoom+%g,1.5)':d=%d:fps=%d:s=1280x720",
		zoomIncrement, frames, zoomFPS)
	args := []string{
		"-loop", "1",
		"-i", imagePath,
		"-vf", filter,
		"-t", fmt.Sprintf("%d", seconds),
		"-pix_fmt", "yuv420p",
		"-y", outPath,
	}
	if err := p.exec.RunGraceful(ctx, p.ffmpegPath, args, renderStopGrace); err != nil {
		metrics.VideosProcessed.WithLabelValues(ModeZoom, "error").Inc()
		return nil, fmt.Errorf("zoom render: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metrics.VideosProcessed.WithLabelValues(ModeZoom, "ok").Inc()
	p.log.Info("zoom rendered", "id", id, "seconds", seconds)
	return &Result{ID: id, OutputPath: outPath}, nil
}

// outputFile creates the per-result directory and returns the video path.
func (p *Processor) outputFile(id string) (string, error) {
	dir := filepath.Join(p.outputRoot, id)
	if err := os.MkdirAll(dir, 0o750); err != nil { // #nosec G301 -- server output dir
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return filepath.Join(dir, "video.mp4"), nil
}

// escapeFilterPath escapes the characters the subtitles filter treats
// specially in its filename argument.
func escapeFilterPath(path string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `[`, `\[`, `]`, `\]`)
	return r.Replace(path)
}
