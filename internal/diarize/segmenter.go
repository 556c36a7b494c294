// Package diarize detects speaker turns in recorded audio using a windowed
// energy heuristic, and aligns the resulting speaker segments with the
// transcript by time.
package diarize

import (
	"errors"
	"fmt"
	"math"
)

// Diarization error taxonomy. A failed detection pass returns no partial
// result.
var (
	ErrDetectionFailed        = errors.New("speaker detection failed")
	ErrSpeakerProfileNotFound = errors.New("speaker profile not found")
	ErrInvalidSpeakerID       = errors.New("invalid speaker id")
)

// silenceFloorDB stands in for log(0) on all-zero windows.
const silenceFloorDB = -120.0

// SpeakerSegment is one contiguous stretch of speech attributed to a
// speaker. Times are recording-absolute seconds. A detection result is
// always non-overlapping and sorted by start time.
type SpeakerSegment struct {
	Speaker int     `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Duration returns the segment length in seconds.
func (s SpeakerSegment) Duration() float64 {
	return s.End - s.Start
}

// Config tunes the energy heuristic.
type Config struct {
	// WindowSize is the analysis window in samples; hop is half of it.
	WindowSize int
	// EnergyThresholdDB separates speech from silence.
	EnergyThresholdDB float64
	// MinSpeechDuration discards speech bursts shorter than this (seconds).
	MinSpeechDuration float64
	// MinPauseDuration is the silence gap required before a speaker change
	// is even considered (seconds).
	MinPauseDuration float64
	// SpeakerChangeDeltaDB is the energy jump, combined with a long enough
	// pause, that allocates a new speaker.
	SpeakerChangeDeltaDB float64
}

// DefaultConfig returns the stock heuristic parameters.
func DefaultConfig() Config {
	return Config{
		WindowSize:           4096,
		EnergyThresholdDB:    -40.0,
		MinSpeechDuration:    0.5,
		MinPauseDuration:     0.8,
		SpeakerChangeDeltaDB: 10.0,
	}
}

// Segmenter runs single-shot batch passes over fully-materialized audio.
// It is deliberately a low-accuracy heuristic: energy threshold VAD plus a
// pause-and-loudness speaker change rule, nothing smarter.
type Segmenter struct {
	cfg Config
}

// NewSegmenter returns a Segmenter, filling zero-valued config fields with
// defaults.
func NewSegmenter(cfg Config) *Segmenter {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.EnergyThresholdDB == 0 {
		cfg.EnergyThresholdDB = def.EnergyThresholdDB
	}
	if cfg.MinSpeechDuration <= 0 {
		cfg.MinSpeechDuration = def.MinSpeechDuration
	}
	if cfg.MinPauseDuration <= 0 {
		cfg.MinPauseDuration = def.MinPauseDuration
	}
	if cfg.SpeakerChangeDeltaDB <= 0 {
		cfg.SpeakerChangeDeltaDB = def.SpeakerChangeDeltaDB
	}
	return &Segmenter{cfg: cfg}
}

// Detect analyzes mono samples (normalized to [-1, 1]) and returns the
// detected speaker segments. Unusable input fails with ErrDetectionFailed
// and no partial result.
func (s *Segmenter) Detect(samples []float64, sampleRate int) ([]SpeakerSegment, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrDetectionFailed, sampleRate)
	}
	if len(samples) < s.cfg.WindowSize {
		return nil, fmt.Errorf("%w: %d samples is below one analysis window", ErrDetectionFailed, len(samples))
	}

	hop := s.cfg.WindowSize / 2
	rate := float64(sampleRate)

	var segments []SpeakerSegment

	speaker := 0
	prevEnd := -1.0    // end of the last emitted segment
	prevEnergy := 0.0  // mean energy of the last emitted segment

	open := false
	openStartIdx := 0
	openFirstEnergy := 0.0
	openEnergySum := 0.0
	openWindows := 0
	lastSpeechIdx := 0

	// Each analysis window owns its hop-length slice of the timeline, so
	// half-overlapping windows do not stretch segment boundaries.
	closeSegment := func(endIdx int) {
		start := float64(openStartIdx*hop) / rate
		end := float64(endIdx*hop+hop) / rate
		open = false
		if end-start < s.cfg.MinSpeechDuration {
			return
		}
		segments = append(segments, SpeakerSegment{Speaker: speaker, Start: start, End: end})
		prevEnd = end
		prevEnergy = openEnergySum / float64(openWindows)
	}

	for i := 0; i+s.cfg.WindowSize <= len(samples); i += hop {
		idx := i / hop
		db := energyDB(samples[i : i+s.cfg.WindowSize])
		speech := db > s.cfg.EnergyThresholdDB

		switch {
		case speech && !open:
			open = true
			openStartIdx = idx
			openFirstEnergy = db
			openEnergySum = db
			openWindows = 1
			lastSpeechIdx = idx

			start := float64(idx*hop) / rate
			if speaker == 0 {
				// The first detected speech always allocates speaker 1.
				speaker = 1
			} else if prevEnd >= 0 &&
				start-prevEnd > s.cfg.MinPauseDuration &&
				math.Abs(openFirstEnergy-prevEnergy) > s.cfg.SpeakerChangeDeltaDB {
				speaker++
			}

		case speech && open:
			openEnergySum += db
			openWindows++
			lastSpeechIdx = idx

		case !speech && open:
			closeSegment(lastSpeechIdx)
		}
	}

	if open {
		closeSegment(lastSpeechIdx)
	}

	return segments, nil
}

// energyDB is the RMS energy of a window in decibels relative to full scale.
func energyDB(window []float64) float64 {
	sum := 0.0
	for _, v := range window {
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(window)))
	if rms <= 0 {
		return silenceFloorDB
	}
	return 20 * math.Log10(rms)
}
