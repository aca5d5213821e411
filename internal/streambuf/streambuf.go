// Package streambuf accumulates partial audio chunks into processable units.
// It is a pure, synchronous transformation with no I/O; given the same input
// sequence it always yields the same units.
package streambuf

import "time"

// State holds the accumulation buffer for one session's audio stream.
type State struct {
	Streaming       bool      `json:"is_streaming"`
	Buffer          []byte    `json:"-"`
	TotalBytes      int64     `json:"total_bytes"`
	ChunksProcessed int       `json:"chunks_processed"`
	StartedAt       time.Time `json:"start_time"`
}

// Begin marks the start of a stream and clears any stale buffer.
func (s *State) Begin(now time.Time) {
	s.Streaming = true
	s.Buffer = nil
	s.TotalBytes = 0
	s.ChunksProcessed = 0
	s.StartedAt = now
}

// End marks the stream finished. The buffer is left for a final Append flush.
func (s *State) End() {
	s.Streaming = false
}

// Append adds a chunk and returns a complete unit when the buffer reaches
// threshold bytes or final is set. On yield the buffer resets to empty and
// ChunksProcessed increments.
//
// Overflow policy: if the buffer would exceed hardCap, the accumulated bytes
// are discarded and only the newest chunk is kept. Recency wins over
// completeness under backpressure.
func (s *State) Append(chunk []byte, final bool, threshold, hardCap int) (unit []byte, complete bool) {
	if len(s.Buffer)+len(chunk) > hardCap {
		s.Buffer = append([]byte(nil), chunk...)
	} else {
		s.Buffer = append(s.Buffer, chunk...)
	}
	s.TotalBytes += int64(len(chunk))

	if len(s.Buffer) >= threshold || final {
		unit = s.Buffer
		s.Buffer = nil
		if len(unit) == 0 {
			return nil, false
		}
		s.ChunksProcessed++
		return unit, true
	}
	return nil, false
}
