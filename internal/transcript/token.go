package transcript

// WordToken is a single recognized word as reported by the speech engine.
// Start is relative to the engine's current recognition session, not the
// recording; the session manager owns the translation to absolute time.
type WordToken struct {
	Text       string
	Start      float64
	Duration   float64
	Confidence float64
}

// End returns the session-relative end time of the token.
func (t WordToken) End() float64 {
	return t.Start + t.Duration
}
