package session

import (
	"errors"
	"fmt"
)

// Transcription error taxonomy. Availability and permission errors are
// fail-fast and surface from Start before any pipeline activity begins.
// ErrSessionLengthExceeded is recovered internally by a window restart and
// never reaches callers.
var (
	ErrEngineUnavailable      = errors.New("speech engine unavailable")
	ErrPermissionDenied       = errors.New("microphone permission denied")
	ErrUnsupportedAudioFormat = errors.New("unsupported audio format")
	ErrSessionLengthExceeded  = errors.New("recognition session length exceeded")

	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("session already running")
)

// RecognitionError wraps an engine failure that is not covered by one of
// the sentinel errors above. The manager logs these and keeps going.
type RecognitionError struct {
	Cause error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition failed: %v", e.Cause)
}

func (e *RecognitionError) Unwrap() error {
	return e.Cause
}

func NewRecognitionError(cause error) *RecognitionError {
	return &RecognitionError{Cause: cause}
}
