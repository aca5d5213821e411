// Package ratelimit implements per-session admission control over a fixed
// window. The window is embedded in the session; checking is a pure function
// of the window value and the clock, so no cross-session synchronization is
// needed.
package ratelimit

import "time"

// Result is the admission decision. Denial is policy, not an error.
type Result int

const (
	Allowed Result = iota
	Denied
)

// Window tracks messages within the current rate window.
type Window struct {
	Count int       `json:"count"`
	Start time.Time `json:"window_start"`
}

// Check records one message against the window and returns the decision.
// When more than span has elapsed since the window started, the window
// resets to count=1. Otherwise the count increments and the call is denied
// once it exceeds the ceiling.
func Check(w *Window, now time.Time, ceiling int, span time.Duration) Result {
	if w.Start.IsZero() || now.Sub(w.Start) > span {
		w.Count = 1
		w.Start = now
		return Allowed
	}
	w.Count++
	if w.Count > ceiling {
		return Denied
	}
	return Allowed
}
