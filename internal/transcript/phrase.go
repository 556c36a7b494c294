package transcript

import "strings"

// DefaultPauseThreshold is the inter-word gap, in seconds, that closes the
// current phrase and opens a new one.
const DefaultPauseThreshold = 0.8

// Builder groups word tokens into phrases. A callback from the engine always
// carries the complete token list for the active recognition window, so the
// result fully replaces whatever the previous callback produced.
type Builder struct {
	pauseThreshold float64
}

// NewBuilder returns a phrase builder using the given pause threshold in
// seconds; values <= 0 fall back to DefaultPauseThreshold.
func NewBuilder(pauseThreshold float64) *Builder {
	if pauseThreshold <= 0 {
		pauseThreshold = DefaultPauseThreshold
	}
	return &Builder{pauseThreshold: pauseThreshold}
}

// Build converts one callback's token sequence into candidate segments.
// Offset is the current window offset; it shifts session-relative phrase
// starts into recording-absolute timestamps and seeds the deterministic
// segment id. Build is a pure function of its inputs.
func (b *Builder) Build(tokens []WordToken, offset float64) []Segment {
	if len(tokens) == 0 {
		return nil
	}

	var segments []Segment
	first := 0
	for i := 1; i <= len(tokens); i++ {
		if i < len(tokens) && tokens[i].Start-tokens[i-1].End() <= b.pauseThreshold {
			continue
		}
		segments = append(segments, b.phrase(tokens[first:i], offset))
		first = i
	}
	return segments
}

func (b *Builder) phrase(tokens []WordToken, offset float64) Segment {
	texts := make([]string, 0, len(tokens))
	sum := 0.0
	for _, t := range tokens {
		texts = append(texts, t.Text)
		sum += t.Confidence
	}

	start := tokens[0].Start
	last := tokens[len(tokens)-1]

	return Segment{
		ID:         NewSegmentID(offset, start),
		Text:       strings.Join(texts, " "),
		Timestamp:  offset + start,
		Duration:   last.End() - start,
		Confidence: sum / float64(len(tokens)),
		Speaker:    UnknownSpeaker,
	}
}
