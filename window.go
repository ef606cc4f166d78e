/*
File: window.go
Version: 1.0.0
Description: Sliding-window admission control over outbound queries. One
             instance per client session, constructed explicitly and injected
             into the resolver so tests never share window state.
*/

package main

import (
	"sync"
	"time"
)

const (
	defaultWindowCapacity = 60
	defaultWindowWidth    = 60 * time.Second
)

// RateWindow admits at most capacity requests per sliding window of width.
type RateWindow struct {
	mu       sync.Mutex
	capacity int
	width    time.Duration
	stamps   []time.Time
}

func NewRateWindow(capacity int, width time.Duration) *RateWindow {
	if capacity <= 0 {
		capacity = defaultWindowCapacity
	}
	if width <= 0 {
		width = defaultWindowWidth
	}
	return &RateWindow{
		capacity: capacity,
		width:    width,
		stamps:   make([]time.Time, 0, capacity),
	}
}

// Admit prunes timestamps older than the window, then either records now and
// admits the request, or denies it with the wait until the oldest recorded
// timestamp falls out of the window.
func (w *RateWindow) Admit(now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.width)
	kept := w.stamps[:0]
	for _, t := range w.stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.stamps = kept

	if len(w.stamps) < w.capacity {
		w.stamps = append(w.stamps, now)
		return true, 0
	}

	retryAfter := w.width - now.Sub(w.stamps[0])
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// InFlight reports the number of timestamps currently inside the window
// without recording an admission. Diagnostic only.
func (w *RateWindow) InFlight(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.width)
	n := 0
	for _, t := range w.stamps {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
