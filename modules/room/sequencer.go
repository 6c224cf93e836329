package room

import "time"

// Sequencer issues a room's logical timestamps in milliseconds. Each value is
// strictly greater than every value issued before it, tracking wall time
// whenever the clock cooperates and stepping by one millisecond when it does
// not (identical or regressing reads).
//
// Not safe for concurrent use; each room actor owns exactly one.
type Sequencer struct {
	now  func() time.Time
	last int64
}

// NewSequencer creates a sequencer on the system clock.
func NewSequencer() *Sequencer {
	return &Sequencer{now: time.Now}
}

// Next returns the next timestamp.
func (s *Sequencer) Next() int64 {
	ts := s.now().UnixMilli()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return ts
}
