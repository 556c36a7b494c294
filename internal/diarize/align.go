package diarize

import "github.com/voxturn/voxturn/internal/transcript"

// Align assigns each transcript segment the speaker whose time range
// contains its timestamp. Containment is [Start, End); when segmentation
// imprecision produces overlap, the first match in time-sorted order wins.
// Segments no speaker range contains keep their existing speaker. The
// input is not mutated.
func Align(segments []transcript.Segment, speakers []SpeakerSegment) []transcript.Segment {
	out := append([]transcript.Segment(nil), segments...)
	for i := range out {
		for _, sp := range speakers {
			if out[i].Timestamp >= sp.Start && out[i].Timestamp < sp.End {
				out[i].Speaker = sp.Speaker
				break
			}
		}
	}
	return out
}

// TurnChanges returns the timestamps at which consecutive (time-sorted)
// speaker segments change identity, for downstream turn signaling.
func TurnChanges(speakers []SpeakerSegment) []float64 {
	var changes []float64
	for i := 1; i < len(speakers); i++ {
		if speakers[i].Speaker != speakers[i-1].Speaker {
			changes = append(changes, speakers[i].Start)
		}
	}
	return changes
}

// SpeakerCount returns the number of distinct speakers in a result set.
func SpeakerCount(speakers []SpeakerSegment) int {
	seen := map[int]struct{}{}
	for _, sp := range speakers {
		seen[sp.Speaker] = struct{}{}
	}
	return len(seen)
}
