package pipeline

import (
	"fmt"
	"sync/atomic"
)

// SegmentSource hands out monotonic segment IDs scoped to one session and
// tracks the segment currently open for partials. A segment is opened lazily
// by the first partial or final after a commit and advanced once the commit
// is broadcast.
type SegmentSource struct {
	prefix  string
	counter uint64
	current string
}

// NewSegmentSource creates a source whose IDs embed the session id.
func NewSegmentSource(sessionID string) *SegmentSource {
	return &SegmentSource{prefix: sessionID}
}

// Next allocates a fresh segment ID without touching the open segment.
func (s *SegmentSource) Next() string {
	n := atomic.AddUint64(&s.counter, 1)
	return fmt.Sprintf("%s-seg-%d", s.prefix, n)
}

// Current returns the open segment ID, allocating one if none is open.
func (s *SegmentSource) Current() string {
	if s.current == "" {
		s.current = s.Next()
	}
	return s.current
}

// Advance closes the open segment so the next Current call starts a new one.
func (s *SegmentSource) Advance() {
	s.current = ""
}
