// Package transcribe submits audio chunks to the external transcription
// service with caching, retries and content sanity checks, and coordinates
// whole batches of chunks under bounded concurrency.
package transcribe

import (
	"github.com/alnah/mediaforge/internal/audio"
)

// Segment is one time-aligned piece of the final transcript.
// Start and End are seconds on the original timeline.
type Segment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ChunkResult is the outcome of a chunk's full attempt sequence.
// It always preserves the chunk's original-timeline span so the stitcher
// can reason about failed spans.
type ChunkResult struct {
	ChunkIndex int
	Chunk      audio.Chunk

	Success  bool
	Segments []ServiceSegment // accelerated-timeline seconds; set only on success
	Err      string           // terminal error message; set only on failure
	Fatal    bool             // failure must not be re-attempted (400/413/preflight)

	Retries          int
	ReportedDuration float64 // accelerated seconds reported by the service
	FromCache        bool
}

// ServiceResponse models the upstream verbose-JSON transcription payload.
// The shape is stable, so it is an explicit record type rather than a map.
// All timestamps are seconds on the accelerated timeline: the service only
// ever sees accelerated audio.
type ServiceResponse struct {
	Task     string           `json:"task"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Text     string           `json:"text"`
	Segments []ServiceSegment `json:"segments"`
}

// ServiceSegment is one segment of the upstream response.
type ServiceSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
