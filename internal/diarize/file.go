package diarize

import (
	"fmt"

	"github.com/voxturn/voxturn/internal/audio"
)

// DetectFile runs a batch detection pass over a recorded WAV file. This is
// the only batch entry point: the audio must be fully written and readable.
// Unreadable or malformed audio fails with ErrDetectionFailed.
func (s *Segmenter) DetectFile(path string) ([]SpeakerSegment, error) {
	samples, sampleRate, err := audio.ReadWAV(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectionFailed, err)
	}
	return s.Detect(samples, sampleRate)
}
