package diarize

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/voxturn/voxturn/internal/audio"
)

func TestDetectFile(t *testing.T) {
	// 2s of speech, 1s of silence, 16kHz 16-bit mono.
	pcm := make([]byte, 0, 3*testRate*2)
	var sample [2]byte
	for i := 0; i < 2*testRate; i++ {
		binary.LittleEndian.PutUint16(sample[:], uint16(int16(3277))) // ~-20dB
		pcm = append(pcm, sample[:]...)
	}
	for i := 0; i < testRate; i++ {
		pcm = append(pcm, 0, 0)
	}

	path := filepath.Join(t.TempDir(), "rec.wav")
	if err := audio.WriteWAV(path, pcm, testRate); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}

	segs, err := NewSegmenter(Config{}).DetectFile(path)
	if err != nil {
		t.Fatalf("DetectFile failed: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Speaker != 1 {
		t.Errorf("expected speaker 1, got %d", segs[0].Speaker)
	}
}

func TestDetectFileCorruptAudio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.wav")
	if err := os.WriteFile(path, []byte("definitely not a wav"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	segs, err := NewSegmenter(Config{}).DetectFile(path)
	if !errors.Is(err, ErrDetectionFailed) {
		t.Fatalf("expected ErrDetectionFailed, got %v", err)
	}
	if segs != nil {
		t.Errorf("expected no partial result, got %v", segs)
	}
}

func TestDetectFileMissing(t *testing.T) {
	_, err := NewSegmenter(Config{}).DetectFile(filepath.Join(t.TempDir(), "missing.wav"))
	if !errors.Is(err, ErrDetectionFailed) {
		t.Fatalf("expected ErrDetectionFailed, got %v", err)
	}
}
