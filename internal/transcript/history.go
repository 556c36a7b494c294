package transcript

// History holds the committed transcript plus the replaceable current
// recognition window. It is not safe for concurrent use: the session
// manager funnels every mutation through its single consumer goroutine,
// which is what keeps the commit-then-read ordering load-bearing rather
// than racy.
type History struct {
	committed []Segment
	window    []Segment
	offset    float64
}

// NewHistory returns an empty history with a zero window offset.
func NewHistory() *History {
	return &History{}
}

// ReplaceWindow overwrites the current window with the given segments.
// The slice is copied; callers keep ownership of theirs.
func (h *History) ReplaceWindow(segments []Segment) {
	h.window = append(h.window[:0:0], segments...)
}

// CommitWindow moves the current window into committed history, re-sorts,
// clears the window, and advances the offset to the max committed end time.
// It returns the segments that were moved, in timestamp order, so callers
// can hand exactly the newly permanent segments to persistence.
// Committing an empty window is a no-op and returns nil.
func (h *History) CommitWindow() []Segment {
	if len(h.window) == 0 {
		return nil
	}
	moved := h.window
	h.committed = append(h.committed, h.window...)
	h.window = nil
	SortSegments(h.committed)
	for _, seg := range h.committed {
		if end := seg.End(); end > h.offset {
			h.offset = end
		}
	}
	SortSegments(moved)
	return moved
}

// Offset is the recording-absolute translation for session-relative
// timestamps. It never decreases.
func (h *History) Offset() float64 {
	return h.offset
}

// Committed returns a copy of the committed segments in timestamp order.
func (h *History) Committed() []Segment {
	return append([]Segment(nil), h.committed...)
}

// CommittedLen returns the number of committed segments, which marks the
// append-only prefix of Full for observers.
func (h *History) CommittedLen() int {
	return len(h.committed)
}

// Full returns committed plus window merged and sorted by timestamp.
// The result is a fresh slice on every call.
func (h *History) Full() []Segment {
	full := make([]Segment, 0, len(h.committed)+len(h.window))
	full = append(full, h.committed...)
	full = append(full, h.window...)
	SortSegments(full)
	return full
}

// Reset drops all state so a fresh recording can start with no leakage
// from the previous one.
func (h *History) Reset() {
	h.committed = nil
	h.window = nil
	h.offset = 0
}
