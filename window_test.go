/*
File: window_test.go
Version: 1.0.0
Description: Tests for sliding-window admission control. All time is injected
             through Admit so the tests are deterministic.
*/

package main

import (
	"testing"
	"time"
)

func TestRateWindowAdmitsUpToCapacity(t *testing.T) {
	w := NewRateWindow(60, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 60; i++ {
		ok, _ := w.Admit(now.Add(time.Duration(i) * 100 * time.Millisecond))
		if !ok {
			t.Fatalf("request %d denied below capacity", i+1)
		}
	}

	last := now.Add(6 * time.Second)
	ok, retryAfter := w.Admit(last)
	if ok {
		t.Fatal("request 61 admitted over capacity")
	}
	want := time.Minute - last.Sub(now)
	if retryAfter != want {
		t.Errorf("retryAfter = %v, want %v", retryAfter, want)
	}
}

func TestRateWindowSlides(t *testing.T) {
	w := NewRateWindow(2, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	w.Admit(now)
	w.Admit(now.Add(time.Second))
	if ok, _ := w.Admit(now.Add(2 * time.Second)); ok {
		t.Fatal("third request admitted inside full window")
	}

	// The first timestamp falls out after a minute.
	if ok, _ := w.Admit(now.Add(time.Minute + time.Millisecond)); !ok {
		t.Fatal("request denied after window slid past the oldest entry")
	}
}

func TestRateWindowInFlight(t *testing.T) {
	w := NewRateWindow(10, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	w.Admit(now)
	w.Admit(now.Add(time.Second))
	if n := w.InFlight(now.Add(2 * time.Second)); n != 2 {
		t.Errorf("InFlight = %d, want 2", n)
	}
	if n := w.InFlight(now.Add(2 * time.Minute)); n != 0 {
		t.Errorf("InFlight after window = %d, want 0", n)
	}
}

func TestRateWindowDefaults(t *testing.T) {
	w := NewRateWindow(0, 0)
	if w.capacity != defaultWindowCapacity {
		t.Errorf("capacity = %d, want %d", w.capacity, defaultWindowCapacity)
	}
	if w.width != defaultWindowWidth {
		t.Errorf("width = %v, want %v", w.width, defaultWindowWidth)
	}
}
