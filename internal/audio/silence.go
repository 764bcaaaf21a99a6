package audio

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alnah/mediaforge/internal/ffmpeg"
)

// silencePoint represents a detected silence in the audio,
// on the accelerated timeline.
type silencePoint struct {
	start time.Duration
	end   time.Duration
}

// midpoint returns the middle of the silence, ideal for cutting.
func (s silencePoint) midpoint() time.Duration {
	return s.start + (s.end-s.start)/2
}

// detectSilences runs FFmpeg silencedetect and parses the output.
func detectSilences(ctx context.Context, exec *ffmpeg.Executor, ffmpegPath, audioPath string, noiseDB float64, minSilence time.Duration) ([]silencePoint, error) {
	args := []string{
		"-i", audioPath,
		"-af", fmt.Sprintf("silencedetect=noise=%ddB:d=%.2f",
			int(noiseDB),
			minSilence.Seconds()),
		"-f", "null",
		"-",
	}

	output, err := exec.RunOutput(ctx, ffmpegPath, args)
	if err != nil {
		// FFmpeg may return non-zero even on success, try parsing output.
		if len(output) == 0 {
			return nil, err
		}
	}

	return parseSilenceOutput(output), nil
}

// parseSilenceOutput extracts silence points from FFmpeg silencedetect output.
// FFmpeg outputs lines like:
//
//	[silencedetect @ 0x...] silence_start: 42.123
//	[silencedetect @ 0x...] silence_end: 43.456 | silence_duration: 1.333
func parseSilenceOutput(output string) []silencePoint {
	var silences []silencePoint
	var currentStart time.Duration
	hasStart := false

	// Regex patterns - tolerant of format variations.
	startRe := regexp.MustCompile(`silence_start:\s*([\d.]+)`)
	endRe := regexp.MustCompile(`silence_end:\s*([\d.]+)`)

	for line := range strings.SplitSeq(output, "\n") {
		if matches := startRe.FindStringSubmatch(line); matches != nil {
			seconds, err := strconv.ParseFloat(matches[1], 64)
			if err == nil {
				currentStart = time.Duration(seconds * float64(time.Second))
				hasStart = true
			}
		}
		if matches := endRe.FindStringSubmatch(line); matches != nil && hasStart {
			seconds, err := strconv.ParseFloat(matches[1], 64)
			if err == nil {
				silences = append(silences, silencePoint{
					start: currentStart,
					end:   time.Duration(seconds * float64(time.Second)),
				})
				hasStart = false
			}
		}
	}

	return silences
}

// snapToSilence moves a target boundary to the center of the closest
// silence within ±window. Returns the original target when no silence
// qualifies.
func snapToSilence(target time.Duration, silences []silencePoint, window time.Duration) time.Duration {
	best := target
	bestDist := window + 1
	for _, s := range silences {
		mid := s.midpoint()
		dist := mid - target
		if dist < 0 {
			dist = -dist
		}
		if dist <= window && dist < bestDist {
			best = mid
			bestDist = dist
		}
	}
	return best
}
