package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/alnah/mediaforge/internal/apierr"
	"github.com/alnah/mediaforge/internal/audio"
	"github.com/alnah/mediaforge/internal/format"
	"github.com/alnah/mediaforge/internal/logging"
	"github.com/alnah/mediaforge/internal/metrics"
	"github.com/alnah/mediaforge/internal/stitch"
	"github.com/alnah/mediaforge/internal/transcribe"
)

// defaultCleanupDelay is how long a terminal job's temp directory survives
// so callers can still fetch referenced files.
const defaultCleanupDelay = 5 * time.Minute

// Pipeline stage interfaces. The audio and transcribe types implement them
// implicitly; tests inject mocks.
type mediaTransformer interface {
	ProcessAudio(ctx context.Context, inputPath, jobDir string, factor float64) (audio.TransformResult, error)
}

type chunkPlanner interface {
	Plan(ctx context.Context, acceleratedPath string,
		acceleratedDuration, originalDuration time.Duration,
		originalBytes int64, jobDir string) (audio.Plan, error)
}

// Transcriber processes a job's chunk set. It is exported so server wiring
// can build one per job (the chunk cache lives under the job directory).
type Transcriber interface {
	TranscribeAll(ctx context.Context, chunks []audio.Chunk) ([]transcribe.ChunkResult, error)
}

// TranscriberFactory builds the per-job batch transcriber.
type TranscriberFactory func(jobDir, language string) Transcriber

// Compile-time interface compliance checks.
var (
	_ mediaTransformer = (*audio.Transformer)(nil)
	_ chunkPlanner     = (*audio.Planner)(nil)
	_ Transcriber      = (*transcribe.Batch)(nil)
)

// Transcript is the assembled output of a completed job.
type Transcript struct {
	Segments []transcribe.Segment `json:"segments"`
	FullText string               `json:"fullText"`
	Formats  *Formats             `json:"formats,omitempty"`
}

// Formats points at the extra artifact files a job produced.
type Formats struct {
	SRTPath string `json:"srtPath,omitempty"`
	TxtPath string `json:"txtPath,omitempty"`
}

// Result is the structured payload of a finished job. SRT and PlainText
// carry rendered artifact bodies for the response path and stay out of the
// persisted JSON.
type Result struct {
	Job        Snapshot   `json:"job"`
	Transcript Transcript `json:"transcript"`
	Warnings   []string   `json:"warnings,omitempty"`

	SRT       string `json:"-"`
	PlainText string `json:"-"`
}

// Orchestrator drives one transcription job through its phases: transform,
// chunk, transcribe, stitch, emit artifacts, settle status.
type Orchestrator struct {
	transformer mediaTransformer
	planner     chunkPlanner
	newBatch    TranscriberFactory

	tempRoot     string
	outputRoot   string
	cleanupDelay time.Duration
	schedule     func(time.Duration, func())
	log          *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithCleanupDelay overrides how long job temp directories outlive the job.
func WithCleanupDelay(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.cleanupDelay = d
		}
	}
}

// WithScheduler replaces the deferred-cleanup timer, for tests.
func WithScheduler(fn func(time.Duration, func())) OrchestratorOption {
	return func(o *Orchestrator) {
		if fn != nil {
			o.schedule = fn
		}
	}
}

// NewOrchestrator wires the pipeline stages around the temp and output roots.
func NewOrchestrator(
	transformer mediaTransformer,
	planner chunkPlanner,
	newBatch TranscriberFactory,
	tempRoot, outputRoot string,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		transformer:  transformer,
		planner:      planner,
		newBatch:     newBatch,
		tempRoot:     tempRoot,
		outputRoot:   outputRoot,
		cleanupDelay: defaultCleanupDelay,
		schedule:     func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		log:          logging.ForService("job"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes one job end to end. The returned error is non-nil only for
// hard failures (the job status is then StatusFailed); degraded jobs return
// a result whose warnings explain what went wrong.
func (o *Orchestrator) Run(ctx context.Context, j *Job, inputPath string) (*Result, error) {
	started := time.Now()
	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	jobDir := j.TempDir(o.tempRoot)
	defer o.scheduleCleanup(j.ID, jobDir)

	if err := audio.EnsureJobDir(jobDir); err != nil {
		return nil, o.fail(j, err)
	}

	o.log.Info("job started",
		"job_id", j.ID, "source", j.SourceName, "speed", j.SpeedFactor, "format", j.Format)

	transformed, err := o.transformer.ProcessAudio(ctx, inputPath, jobDir, j.SpeedFactor)
	if err != nil {
		return nil, o.fail(j, fmt.Errorf("transform: %w", err))
	}
	j.OriginalDuration = transformed.OriginalDuration
	warnings := slices.Clone(transformed.Warnings)

	plan, err := o.planner.Plan(ctx, transformed.AcceleratedPath,
		transformed.AcceleratedDuration, transformed.OriginalDuration,
		transformed.OriginalBytes, jobDir)
	if err != nil {
		return nil, o.fail(j, fmt.Errorf("chunk: %w", err))
	}
	j.TotalChunks = len(plan.Chunks)
	warnings = append(warnings, plan.Warnings...)
	metrics.ChunksPlanned.Add(float64(len(plan.Chunks)))
	o.log.Info("chunk plan ready",
		"job_id", j.ID, "chunks", len(plan.Chunks),
		"duration", format.Duration(j.OriginalDuration))

	results, err := o.newBatch(jobDir, j.Language).TranscribeAll(ctx, plan.Chunks)
	if err != nil {
		return nil, o.fail(j, fmt.Errorf("transcribe: %w", err))
	}

	for _, r := range results {
		if r.Success {
			j.ProcessedChunks++
		}
		j.TotalRetries += r.Retries
	}

	stitched := stitch.Stitch(results, j.SpeedFactor)
	j.FailedChunks = stitched.FailedChunks
	warnings = append(warnings, stitched.Warnings...)

	if len(stitched.Segments) == 0 {
		return nil, o.fail(j, fmt.Errorf("job produced no usable segments: %w", apierr.ErrNoSegments))
	}

	if j.FailedChunks == 0 && !stitched.QualityAlert && len(warnings) == 0 {
		j.Status = StatusCompleted
	} else {
		j.Status = StatusCompletedWithWarnings
	}
	j.CompletedAt = time.Now()

	res := &Result{
		Job: j.Snapshot(),
		Transcript: Transcript{
			Segments: stitched.Segments,
			FullText: stitch.FullText(stitched.Segments),
		},
		Warnings: warnings,
	}

	if err := o.emitArtifacts(j, res); err != nil {
		return nil, o.fail(j, err)
	}

	metrics.JobsTotal.WithLabelValues(string(j.Status)).Inc()
	metrics.JobDuration.Observe(time.Since(started).Seconds())
	o.log.Info("job finished",
		"job_id", j.ID, "status", j.Status,
		"segments", len(res.Transcript.Segments),
		"failed_chunks", j.FailedChunks,
		"took", format.DurationHuman(time.Since(started)))

	return res, nil
}

// emitArtifacts writes the job's output files: the structured payload
// always, plus the requested subtitle or plaintext rendition.
func (o *Orchestrator) emitArtifacts(j *Job, res *Result) error {
	outDir := j.OutputDir(o.outputRoot)
	if err := os.MkdirAll(outDir, 0o750); err != nil { // #nosec G301 -- server output dir
		return fmt.Errorf("create output dir: %w", err)
	}

	switch j.Format {
	case "srt":
		cues := make([]format.Cue, len(res.Transcript.Segments))
		for i, s := range res.Transcript.Segments {
			cues[i] = format.Cue{Start: s.Start, End: s.End, Text: s.Text}
		}
		res.SRT = format.SRT(cues)
		path := filepath.Join(outDir, "transcript.srt")
		if err := os.WriteFile(path, []byte(res.SRT), 0o640); err != nil { // #nosec G306
			return fmt.Errorf("write srt artifact: %w", err)
		}
		res.Transcript.Formats = &Formats{SRTPath: path}
	case "txt":
		res.PlainText = res.Transcript.FullText
		path := filepath.Join(outDir, "transcript.txt")
		if err := os.WriteFile(path, []byte(res.PlainText), 0o640); err != nil { // #nosec G306
			return fmt.Errorf("write txt artifact: %w", err)
		}
		res.Transcript.Formats = &Formats{TxtPath: path}
	}

	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "transcript.json"), payload, 0o640); err != nil { // #nosec G306
		return fmt.Errorf("write json artifact: %w", err)
	}
	return nil
}

// fail settles a job as failed and returns the terminal error.
func (o *Orchestrator) fail(j *Job, err error) error {
	j.Status = StatusFailed
	j.Error = err.Error()
	j.CompletedAt = time.Now()
	metrics.JobsTotal.WithLabelValues(string(StatusFailed)).Inc()
	o.log.Error("job failed", "job_id", j.ID, "error", err)
	return err
}

// scheduleCleanup arranges deletion of the job's temp directory once the
// grace period for fetching referenced files has passed.
func (o *Orchestrator) scheduleCleanup(id, dir string) {
	delay := o.cleanupDelay
	o.schedule(delay, func() {
		if err := os.RemoveAll(dir); err != nil {
			o.log.Warn("temp cleanup failed", "job_id", id, "dir", dir, "error", err)
			return
		}
		o.log.Debug("temp dir removed", "job_id", id, "dir", dir)
	})
}
