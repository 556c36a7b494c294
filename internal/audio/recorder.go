package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const defaultSampleRate = 16000

// Recorder tees the live PCM stream to disk so the batch speaker detector
// has a fully-materialized buffer to analyze after the recording ends.
// The durable format is WAV, which the detector reads back directly.
type Recorder struct {
	audioDir string

	mu          sync.Mutex
	recordingID string
	rawPath     string
	rawFile     *os.File
	sampleRate  int
}

func NewRecorder(audioDir string) *Recorder {
	if audioDir == "" {
		audioDir = filepath.Join("data", "audio")
	}
	return &Recorder{audioDir: audioDir, sampleRate: defaultSampleRate}
}

func (r *Recorder) SetSampleRate(sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sampleRate > 0 {
		r.sampleRate = sampleRate
	}
}

// Writer returns a writer that forwards to dst and captures a copy of the
// stream for the active recording.
func (r *Recorder) Writer(dst io.Writer) io.Writer {
	return &teeWriter{recorder: r, dst: dst}
}

func (r *Recorder) StartRecording(recordingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.audioDir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	if r.rawFile != nil {
		_ = r.rawFile.Close()
	}

	rawPath := filepath.Join(r.audioDir, recordingID+".pcm")
	rawFile, err := os.OpenFile(rawPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw pcm file: %w", err)
	}

	r.recordingID = recordingID
	r.rawPath = rawPath
	r.rawFile = rawFile
	return nil
}

// EndRecording closes the raw stream, wraps it into a WAV file, and returns
// the WAV path. Returns "" when no recording is active.
func (r *Recorder) EndRecording() (string, error) {
	r.mu.Lock()
	if r.recordingID == "" || r.rawFile == nil {
		r.mu.Unlock()
		return "", nil
	}

	recordingID := r.recordingID
	rawPath := r.rawPath
	rawFile := r.rawFile
	sampleRate := r.sampleRate

	r.recordingID = ""
	r.rawPath = ""
	r.rawFile = nil
	r.mu.Unlock()

	if err := rawFile.Close(); err != nil {
		return "", fmt.Errorf("close raw pcm file: %w", err)
	}

	pcm, err := os.ReadFile(rawPath)
	if err != nil {
		return "", fmt.Errorf("read raw pcm data: %w", err)
	}

	wavPath := filepath.Join(r.audioDir, recordingID+".wav")
	if err := WriteWAV(wavPath, pcm, sampleRate); err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}

	_ = os.Remove(rawPath)
	return wavPath, nil
}

func (r *Recorder) writePCM(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawFile == nil {
		return nil
	}
	if _, err := r.rawFile.Write(data); err != nil {
		return fmt.Errorf("write raw pcm bytes: %w", err)
	}
	return nil
}

type teeWriter struct {
	recorder *Recorder
	dst      io.Writer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.recorder.writePCM(p[:n]); err != nil {
		return n, err
	}
	return n, nil
}
