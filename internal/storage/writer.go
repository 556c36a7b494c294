package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/voxturn/voxturn/internal/transcript"
)

// Writer maintains plain markdown mirrors of committed transcripts, one
// file per recording. The files are what gets archived off-box.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Append writes committed segments to the recording's markdown file.
// Segments arrive already committed, so append-only is safe.
func (w *Writer) Append(recordingID string, segments []transcript.Segment) error {
	if len(segments) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.Path(recordingID)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	for _, seg := range segments {
		if _, err := fmt.Fprintln(f, seg.FormatMarkdown()); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	return nil
}

// Rewrite replaces the recording's markdown file, used after speaker
// alignment or segment edits change already-written lines.
func (w *Writer) Rewrite(recordingID string, segments []transcript.Segment) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.FormatMarkdown())
		b.WriteByte('\n')
	}

	path := w.Path(recordingID)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func (w *Writer) Path(recordingID string) string {
	return filepath.Join(w.dir, recordingID+".md")
}
