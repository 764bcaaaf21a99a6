// Package job carries the per-request transcription job model and the
// orchestrator that drives it through transform, chunking, transcription,
// stitching and artifact emission.
package job

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusProcessing            Status = "processing"
	StatusCompleted             Status = "completed"
	StatusCompletedWithWarnings Status = "completed_with_warnings"
	StatusFailed                Status = "failed"
)

// Job is the record threaded through the pipeline phases. It is owned by a
// single orchestrator run and never shared between goroutines.
type Job struct {
	ID          string
	SourceName  string
	SpeedFactor float64
	Format      string // json, srt or txt
	Language    string

	Status      Status
	CreatedAt   time.Time
	CompletedAt time.Time

	OriginalDuration time.Duration
	TotalChunks      int
	ProcessedChunks  int
	FailedChunks     int
	TotalRetries     int
	Error            string
}

// New creates a processing job for an uploaded source file.
func New(sourceName string, speedFactor float64, outFormat, language string) *Job {
	return &Job{
		ID:          uuid.NewString(),
		SourceName:  sourceName,
		SpeedFactor: speedFactor,
		Format:      outFormat,
		Language:    language,
		Status:      StatusProcessing,
		CreatedAt:   time.Now(),
	}
}

// TempDir returns the job's working directory under the service temp root.
func (j *Job) TempDir(tempRoot string) string {
	return filepath.Join(tempRoot, "job_"+j.ID)
}

// OutputDir returns the job's artifact directory under the output root.
func (j *Job) OutputDir(outputRoot string) string {
	return filepath.Join(outputRoot, j.ID)
}

// Snapshot is the job's API representation.
type Snapshot struct {
	ID               string  `json:"id"`
	Status           Status  `json:"status"`
	CreatedAt        string  `json:"createdAt"`
	DurationSeconds  float64 `json:"durationSeconds,omitempty"`
	SpeedFactor      float64 `json:"speedFactor"`
	TotalChunks      int     `json:"totalChunks,omitempty"`
	ProcessedChunks  int     `json:"processedChunks,omitempty"`
	FailedChunks     int     `json:"failedChunks,omitempty"`
	TotalRetries     int     `json:"totalRetries,omitempty"`
	ProcessingMillis int64   `json:"processingMillis,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Snapshot captures the job's current state for API responses.
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{
		ID:              j.ID,
		Status:          j.Status,
		CreatedAt:       j.CreatedAt.UTC().Format(time.RFC3339),
		DurationSeconds: j.OriginalDuration.Seconds(),
		SpeedFactor:     j.SpeedFactor,
		TotalChunks:     j.TotalChunks,
		ProcessedChunks: j.ProcessedChunks,
		FailedChunks:    j.FailedChunks,
		TotalRetries:    j.TotalRetries,
		Error:           j.Error,
	}
	if !j.CompletedAt.IsZero() {
		s.ProcessingMillis = j.CompletedAt.Sub(j.CreatedAt).Milliseconds()
	}
	return s
}

// ValidateID rejects ids that could escape the temp or output roots when
// joined into a path. Job ids are always UUIDs.
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid job id %q", id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid job id %q: %w", id, err)
	}
	return nil
}
