package transcript

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LowConfidenceThreshold marks segments whose aggregate confidence is too
// low to trust for display purposes.
const LowConfidenceThreshold = 0.5

// UnknownSpeaker is the speaker id of a segment that has not been aligned
// against any diarization result yet.
const UnknownSpeaker = 0

// Segment is one phrase of the transcript. Timestamp is recording-absolute.
// While a segment sits in the current recognition window it may be replaced
// wholesale on the next engine callback; once committed it is immutable.
type Segment struct {
	ID         uuid.UUID `json:"id"`
	Text       string    `json:"text"`
	Timestamp  float64   `json:"timestamp"`
	Duration   float64   `json:"duration"`
	Confidence float64   `json:"confidence"`
	Speaker    int       `json:"speaker"`
	Edited     bool      `json:"edited"`
}

// End returns the recording-absolute end time of the segment.
func (s Segment) End() float64 {
	return s.Timestamp + s.Duration
}

// LowConfidence reports whether the segment's aggregate confidence falls
// below the display threshold.
func (s Segment) LowConfidence() bool {
	return s.Confidence < LowConfidenceThreshold
}

// FormatMarkdown renders the segment as a single attributed markdown line.
func (s Segment) FormatMarkdown() string {
	d := time.Duration(s.Timestamp * float64(time.Second))
	ts := fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	return fmt.Sprintf("**[%s] Speaker %d:** %s", ts, s.Speaker, strings.TrimSpace(s.Text))
}

// segmentNamespace salts segment ids so they cannot collide with v5 UUIDs
// minted elsewhere in the system.
var segmentNamespace = uuid.MustParse("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")

// NewSegmentID derives the stable 128-bit identifier for a phrase from the
// window offset and the phrase's session-relative start time. The same pair
// always yields the same id, so repeated partial callbacks that rebuild an
// unchanged phrase do not churn downstream consumers.
func NewSegmentID(offset, phraseStart float64) uuid.UUID {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], math.Float64bits(offset))
	binary.BigEndian.PutUint64(buf[8:], math.Float64bits(phraseStart))
	return uuid.NewSHA1(segmentNamespace, buf[:])
}

// SortSegments orders segments ascending by timestamp. Ties keep their
// relative order so committed segments stay ahead of window replacements.
func SortSegments(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Timestamp < segments[j].Timestamp
	})
}
