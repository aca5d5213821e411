package streambuf

import (
	"bytes"
	"testing"
	"time"
)

const (
	testThreshold = 32 * 1024
	testHardCap   = 1024 * 1024
)

func TestAppendBuffersUntilThreshold(t *testing.T) {
	var s State
	s.Begin(time.Now())

	// Three 20KB chunks: the second append crosses 32KB and yields 40KB,
	// the third buffers again.
	chunk := bytes.Repeat([]byte{0xAB}, 20*1024)

	unit, complete := s.Append(chunk, false, testThreshold, testHardCap)
	if complete {
		t.Fatalf("first chunk: complete = true, want false")
	}
	if unit != nil {
		t.Fatalf("first chunk: unit = %d bytes, want nil", len(unit))
	}

	unit, complete = s.Append(chunk, false, testThreshold, testHardCap)
	if !complete {
		t.Fatalf("second chunk: complete = false, want true")
	}
	if len(unit) != 40*1024 {
		t.Fatalf("second chunk: unit = %d bytes, want %d", len(unit), 40*1024)
	}

	unit, complete = s.Append(chunk, false, testThreshold, testHardCap)
	if complete {
		t.Fatalf("third chunk: complete = true, want false")
	}
	if s.ChunksProcessed != 1 {
		t.Fatalf("ChunksProcessed = %d, want 1", s.ChunksProcessed)
	}
	if s.TotalBytes != 60*1024 {
		t.Fatalf("TotalBytes = %d, want %d", s.TotalBytes, 60*1024)
	}
}

func TestAppendFinalFlushesBelowThreshold(t *testing.T) {
	var s State
	s.Begin(time.Now())

	chunk := []byte("short audio")
	unit, complete := s.Append(chunk, true, testThreshold, testHardCap)
	if !complete {
		t.Fatalf("complete = false, want true")
	}
	if !bytes.Equal(unit, chunk) {
		t.Fatalf("unit = %q, want %q", unit, chunk)
	}
	if len(s.Buffer) != 0 {
		t.Fatalf("buffer not reset, %d bytes left", len(s.Buffer))
	}
}

func TestAppendFinalEmptyBufferYieldsNothing(t *testing.T) {
	var s State
	s.Begin(time.Now())

	unit, complete := s.Append(nil, true, testThreshold, testHardCap)
	if complete {
		t.Fatalf("complete = true, want false")
	}
	if unit != nil {
		t.Fatalf("unit = %v, want nil", unit)
	}
	if s.ChunksProcessed != 0 {
		t.Fatalf("ChunksProcessed = %d, want 0", s.ChunksProcessed)
	}
}

func TestAppendOverflowKeepsNewestChunk(t *testing.T) {
	var s State
	s.Begin(time.Now())

	old := bytes.Repeat([]byte{0x01}, 10)
	s.Append(old, false, 100, 16)

	newest := bytes.Repeat([]byte{0x02}, 10)
	s.Append(newest, false, 100, 16)

	if !bytes.Equal(s.Buffer, newest) {
		t.Fatalf("buffer = %v, want newest chunk only", s.Buffer)
	}
	if s.TotalBytes != 20 {
		t.Fatalf("TotalBytes = %d, want 20", s.TotalBytes)
	}
}

func TestBeginClearsStaleState(t *testing.T) {
	var s State
	s.Begin(time.Now())
	s.Append([]byte("leftover"), false, testThreshold, testHardCap)
	s.End()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Begin(start)
	if !s.Streaming {
		t.Fatalf("Streaming = false, want true")
	}
	if len(s.Buffer) != 0 || s.TotalBytes != 0 || s.ChunksProcessed != 0 {
		t.Fatalf("stale state survived Begin: buffer=%d total=%d chunks=%d",
			len(s.Buffer), s.TotalBytes, s.ChunksProcessed)
	}
	if !s.StartedAt.Equal(start) {
		t.Fatalf("StartedAt = %v, want %v", s.StartedAt, start)
	}
}
