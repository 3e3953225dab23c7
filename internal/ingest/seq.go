package ingest

import "sync/atomic"

// Sequence hands out monotonically increasing event IDs. It is seeded from
// the journal's high-water mark at boot so IDs stay unique across restarts.
type Sequence struct {
	n atomic.Int64
}

// NewSequenceAt returns a sequence that continues after last.
func NewSequenceAt(last int64) *Sequence {
	s := &Sequence{}
	s.n.Store(last)
	return s
}

// Next returns the next event ID.
func (s *Sequence) Next() int64 { return s.n.Add(1) }

// Last returns the most recently issued event ID.
func (s *Sequence) Last() int64 { return s.n.Load() }
