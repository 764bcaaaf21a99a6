package transcribe

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/alnah/mediaforge/internal/apierr"
	"github.com/alnah/mediaforge/internal/audio"
)

// Silent-failure thresholds.
const (
	// minUsableTextLen is the text length below which a response is
	// suspicious when it also covers almost none of the chunk.
	minUsableTextLen = 10

	// minDurationCoverage is the fraction of the chunk's accelerated
	// duration the service must report for a near-empty text to pass.
	minDurationCoverage = 0.10

	// hallucinationRun is the number of consecutive identical normalized
	// segments that marks a hallucinated response.
	hallucinationRun = 3

	// hallucinationMinLen ignores very short repeats ("ok", "mm") that
	// occur naturally in speech.
	hallucinationMinLen = 5
)

// checkResponse validates a syntactically valid service response against
// the chunk it describes. A non-nil error means the attempt failed and
// should loop back into the retry schedule.
func checkResponse(resp *ServiceResponse, chunk audio.Chunk) error {
	if len(resp.Segments) == 0 {
		return fmt.Errorf("chunk %d: response has no segments: %w", chunk.Index, apierr.ErrSilentResponse)
	}

	accelSeconds := chunk.AccelDuration.Seconds()
	if len(strings.TrimSpace(resp.Text)) < minUsableTextLen &&
		accelSeconds > 0 && resp.Duration < minDurationCoverage*accelSeconds {
		return fmt.Errorf("chunk %d: %d chars of text covering %.1fs of %.1fs: %w",
			chunk.Index, len(resp.Text), resp.Duration, accelSeconds, apierr.ErrSilentResponse)
	}

	if repeated := findRepeatedRun(resp.Segments); repeated != "" {
		return fmt.Errorf("chunk %d: %d consecutive identical segments (%q): %w",
			chunk.Index, hallucinationRun, repeated, apierr.ErrHallucination)
	}

	return nil
}

// findRepeatedRun scans for hallucinationRun consecutive segments whose
// normalized text is identical and long enough to matter. Returns the
// repeated text, or empty when the response is clean.
func findRepeatedRun(segments []ServiceSegment) string {
	run := 1
	prev := ""
	for i, s := range segments {
		cur := normalizeText(s.Text)
		if i > 0 && cur != "" && cur == prev {
			run++
			if run >= hallucinationRun && len(cur) >= hallucinationMinLen {
				return cur
			}
		} else {
			run = 1
		}
		prev = cur
	}
	return ""
}

// normalizeText reduces a segment's text to its comparable core:
// NFKD-decomposed, non-alphanumerics stripped, lowercased, spaces collapsed.
func normalizeText(s string) string {
	decomposed := norm.NFKD.String(s)

	var b strings.Builder
	lastSpace := true
	for _, r := range decomposed {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}
