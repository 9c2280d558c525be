package testutil

import "sync/atomic"

// Sequence numbers the steps of a test run. It is safe for concurrent use
// and restarts at 1 after Reset, so repeated runs of one scenario produce
// identical traces.
type Sequence struct {
	n atomic.Int64
}

// NewSequence returns a sequence whose first Next is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next advances the sequence and returns the new value.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

// Current returns the last value handed out, 0 before the first Next.
func (s *Sequence) Current() int64 {
	return s.n.Load()
}

// Reset rewinds the sequence so the next call to Next returns 1.
func (s *Sequence) Reset() {
	s.n.Store(0)
}
