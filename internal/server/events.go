package server

import (
	"time"

	"github.com/voxturn/voxturn/internal/transcript"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// TranscriptUpdatedEvent carries the full transcript snapshot for the
// active recording. Committed is the number of leading segments that are
// settled; everything after it may still be replaced.
type TranscriptUpdatedEvent struct {
	Event
	RecordingID string               `json:"recording_id"`
	Segments    []transcript.Segment `json:"segments"`
	Committed   int                  `json:"committed"`
}

type RecordingStartedEvent struct {
	Event
	RecordingID string `json:"recording_id"`
}

type RecordingEndedEvent struct {
	Event
	RecordingID string  `json:"recording_id"`
	Duration    float64 `json:"duration"`
}

// SpeakersReadyEvent announces that the batch speaker pass for a finished
// recording has completed and segment attributions are persisted.
type SpeakersReadyEvent struct {
	Event
	RecordingID string    `json:"recording_id"`
	Speakers    int       `json:"speakers"`
	TurnChanges []float64 `json:"turn_changes"`
}

type SummaryReadyEvent struct {
	Event
	RecordingID string `json:"recording_id"`
	Summary     string `json:"summary"`
	Status      string `json:"status"`
}

type StatusChangedEvent struct {
	Event
	Paused bool `json:"paused"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
