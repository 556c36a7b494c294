package session

import (
	"context"
	"time"

	"github.com/voxturn/voxturn/internal/transcript"
)

// TokenBatch is one engine callback's worth of recognized words. A batch
// always describes the complete transcript-so-far of the active recognition
// window, not a delta; Final marks the engine's own notion of a settled
// result but does not change how the window is replaced.
type TokenBatch struct {
	Words []transcript.WordToken
	Final bool
}

// ResultSink receives engine callbacks. Implementations must not assume
// anything about the invoking goroutine; the manager turns every call into
// a message for its single consumer.
type ResultSink interface {
	OnTokens(batch TokenBatch)
	OnError(err error)
}

// Engine is a live speech recognition session with a bounded maximum
// duration. Stop followed by Start recycles the underlying engine session;
// WriteAudio keeps working across the recycle.
type Engine interface {
	Start(ctx context.Context, sink ResultSink) error
	WriteAudio(p []byte) error
	Stop() error
}

// Store receives committed transcript segments and recording lifecycle
// events for persistence. The manager never reads back through it.
type Store interface {
	CreateRecording(id string, startedAt time.Time) error
	SaveSegments(recordingID string, segments []transcript.Segment) error
	EndRecording(id string, endedAt time.Time) error
}

// Publisher receives the merged transcript snapshot after each state
// mutation completes, never before.
type Publisher interface {
	PublishTranscript(recordingID string, full []transcript.Segment, committed int)
	PublishRecordingStarted(recordingID string)
	PublishRecordingEnded(recordingID string, duration time.Duration)
}
