package format

import (
	"fmt"
	"strings"
)

// Cue is one subtitle entry. Start and End are seconds on the original
// timeline. The type is deliberately self-contained so artifact rendering
// stays decoupled from the transcription pipeline's types.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// SRT renders cues as a SubRip document: numbered blocks separated by a
// blank line, each with an index line, a timing line and one text line.
func SRT(cues []Cue) string {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, Timestamp(c.Start), Timestamp(c.End), c.Text)
	}
	return b.String()
}
