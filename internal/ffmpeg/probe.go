package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

// FileInfo holds the probed metadata of a media file.
type FileInfo struct {
	Duration time.Duration
	Size     int64
}

// Probe reads a media file's duration from FFmpeg output and its size from
// the filesystem.
func (e *Executor) Probe(ctx context.Context, ffmpegPath, mediaPath string) (FileInfo, error) {
	var info FileInfo

	stat, err := os.Stat(mediaPath)
	if err != nil {
		return info, fmt.Errorf("stat %s: %w", mediaPath, err)
	}
	info.Size = stat.Size()

	d, err := e.ProbeDuration(ctx, ffmpegPath, mediaPath)
	if err != nil {
		return info, err
	}
	info.Duration = d
	return info, nil
}

// ProbeDuration returns the duration of a media file using ffmpeg.
// The -i flag with a null muxer prints file info including duration.
func (e *Executor) ProbeDuration(ctx context.Context, ffmpegPath, mediaPath string) (time.Duration, error) {
	args := []string{
		"-i", mediaPath,
		"-f", "null", "-",
	}
	output, err := e.RunOutput(ctx, ffmpegPath, args)
	if err != nil {
		// FFmpeg returns non-zero even when it successfully reads file info,
		// so we try to parse the output anyway.
		if len(output) == 0 {
			return 0, err
		}
	}

	return ParseDuration(output)
}

// ParseDuration extracts duration from FFmpeg stderr.
// Looks for: "Duration: HH:MM:SS.ms" or "time=HH:MM:SS.ms"
func ParseDuration(output string) (time.Duration, error) {
	// Pattern: Duration: 00:05:23.45
	durationRe := regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)
	if matches := durationRe.FindStringSubmatch(output); matches != nil {
		return parseTimeComponents(matches[1], matches[2], matches[3], matches[4])
	}

	// Fallback pattern: time=00:05:23.45 (from progress output)
	timeRe := regexp.MustCompile(`time=(\d+):(\d+):(\d+)\.(\d+)`)
	// Find all matches and use the last one (final time).
	allMatches := timeRe.FindAllStringSubmatch(output, -1)
	if len(allMatches) > 0 {
		matches := allMatches[len(allMatches)-1]
		return parseTimeComponents(matches[1], matches[2], matches[3], matches[4])
	}

	return 0, fmt.Errorf("could not parse duration from ffmpeg output: %w", ErrProbeFailed)
}

// parseTimeComponents converts HH:MM:SS.ms strings to Duration.
func parseTimeComponents(hours, minutes, seconds, fractional string) (time.Duration, error) {
	h, _ := strconv.Atoi(hours)
	m, _ := strconv.Atoi(minutes)
	s, _ := strconv.Atoi(seconds)

	// Normalize fractional part to milliseconds.
	// Input may be 1-6+ digits (e.g., ".4", ".45", ".456", ".456789").
	frac, _ := strconv.Atoi(fractional)
	ms := frac
	switch n := len(fractional); {
	case n == 1:
		ms = frac * 100
	case n == 2:
		ms = frac * 10
	case n == 3:
		// Already milliseconds.
	case n > 3:
		// Truncate excess precision by dividing.
		for i := n; i > 3; i-- {
			ms /= 10
		}
	}

	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

// FormatTime formats a duration for FFmpeg -ss/-to arguments.
func FormatTime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}
