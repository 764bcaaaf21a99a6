// Package stitch maps per-chunk transcription results back onto the
// original timeline and assembles one ordered transcript, reporting
// gaps, overlaps, duplicates and overall quality problems as warnings.
package stitch

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/alnah/mediaforge/internal/transcribe"
)

// Timeline thresholds.
const (
	// boundaryTolerance is the drift in seconds between a chunk's start
	// and the running timeline position before a GAP or OVERLAP warning.
	boundaryTolerance = 1.0

	// duplicateWindow is how many recently emitted segment texts are
	// checked when suppressing hallucination echoes across boundaries.
	duplicateWindow = 3
)

// Quality gate thresholds. Tripping any of them degrades the job.
const (
	maxDiscrepancySeconds = 60.0
	minSegmentsPerMinute  = 1.0
	maxFailureRate        = 0.3
)

// Result is the stitched transcript plus everything the job needs to
// decide its final status.
type Result struct {
	Segments []transcribe.Segment
	Warnings []string

	TotalChunks  int
	FailedChunks int
	QualityAlert bool
}

// Stitch assembles chunk results into a single transcript on the original
// timeline. Service timestamps are accelerated seconds, so each becomes
// `t*speedFactor + chunkStart`. Results may arrive in any order; they are
// sorted by chunk index first.
func Stitch(results []transcribe.ChunkResult, speedFactor float64) Result {
	sorted := slices.Clone(results)
	slices.SortFunc(sorted, func(a, b transcribe.ChunkResult) int {
		return cmp.Compare(a.ChunkIndex, b.ChunkIndex)
	})

	out := Result{TotalChunks: len(sorted)}
	if len(sorted) == 0 {
		return out
	}

	var (
		segments      []transcribe.Segment
		recent        []string
		lastEnd       float64 // running position on the original timeline
		drift         float64 // accumulated absolute boundary drift
		totalOriginal float64
	)

	for _, r := range sorted {
		chunkStart := r.Chunk.StartTime.Seconds()
		chunkDur := r.Chunk.Duration.Seconds()
		totalOriginal += chunkDur

		if diff := chunkStart - lastEnd; math.Abs(diff) > boundaryTolerance {
			drift += math.Abs(diff)
			if diff > 0 {
				out.Warnings = append(out.Warnings, fmt.Sprintf(
					"GAP: %.1fs of timeline missing before chunk %d (position %.1fs, chunk starts %.1fs)",
					diff, r.ChunkIndex, lastEnd, chunkStart))
			} else {
				out.Warnings = append(out.Warnings, fmt.Sprintf(
					"OVERLAP: chunk %d starts %.1fs before position %.1fs",
					r.ChunkIndex, -diff, lastEnd))
			}
		}

		if !r.Success {
			out.FailedChunks++
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"chunk %d failed, audio %.1fs-%.1fs has no transcript: %s",
				r.ChunkIndex, chunkStart, chunkStart+chunkDur, r.Err))
			lastEnd = chunkStart + chunkDur
			continue
		}

		emitted := false
		for _, s := range r.Segments {
			text := strings.TrimSpace(s.Text)
			if text == "" {
				continue
			}

			start := s.Start*speedFactor + chunkStart
			end := s.End*speedFactor + chunkStart

			if slices.Contains(recent, text) {
				out.Warnings = append(out.Warnings, fmt.Sprintf(
					"chunk %d: dropped hallucinated duplicate at %.1fs (%q)",
					r.ChunkIndex, start, text))
				continue
			}

			segments = append(segments, transcribe.Segment{
				Index: len(segments) + 1,
				Start: start,
				End:   end,
				Text:  text,
			})
			recent = append(recent, text)
			if len(recent) > duplicateWindow {
				recent = recent[1:]
			}
			lastEnd = end
			emitted = true
		}
		if !emitted {
			lastEnd = chunkStart + chunkDur
		}
	}

	enforceMonotonic(segments)
	out.Segments = segments

	discrepancy := drift + math.Abs(lastEnd-totalOriginal)
	density := 0.0
	if totalOriginal > 0 {
		density = float64(len(segments)) / (totalOriginal / 60)
	}
	failureRate := float64(out.FailedChunks) / float64(out.TotalChunks)

	if discrepancy > maxDiscrepancySeconds || density < minSegmentsPerMinute || failureRate > maxFailureRate {
		out.QualityAlert = true
		out.Warnings = append(out.Warnings, fmt.Sprintf(
			"QUALITY_ALERT: timeline discrepancy %.1fs, %.2f segments/min, %.0f%% chunks failed",
			discrepancy, density, failureRate*100))
	}

	return out
}

// enforceMonotonic clamps segment times so starts never regress and no
// segment ends before it starts. Overlapping chunk boundaries can otherwise
// produce locally decreasing times.
func enforceMonotonic(segments []transcribe.Segment) {
	for i := range segments {
		if i > 0 {
			if segments[i].Start < segments[i-1].Start {
				segments[i].Start = segments[i-1].Start
			}
			if segments[i].End < segments[i-1].End {
				segments[i].End = segments[i-1].End
			}
		}
		if segments[i].End < segments[i].Start {
			segments[i].End = segments[i].Start
		}
	}
}

// FullText joins the transcript's segment texts with single spaces.
func FullText(segments []transcribe.Segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}
