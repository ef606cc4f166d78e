/*
File: reassemble_test.go
Version: 1.0.0
Description: Tests for answer reassembly from plain and tagged TXT strings.
*/

package main

import (
	"errors"
	"testing"
)

func TestReassemblePlainConcatenation(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want string
	}{
		{"single string", []string{"hello"}, "hello"},
		{"multiple chunks in order", []string{"part one ", "part two ", "part three"}, "part one part two part three"},
		{"empty set", nil, ""},
		{"slash without tag shape", []string{"a/b: not a fragment tag"}, "a/b: not a fragment tag"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Reassemble(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("Reassemble(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestReassembleTaggedFragments(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want string
	}{
		{"in order", []string{"1/3:alpha ", "2/3:beta ", "3/3:gamma"}, "alpha beta gamma"},
		{"out of order", []string{"3/3:gamma", "1/3:alpha ", "2/3:beta "}, "alpha beta gamma"},
		{"single tagged", []string{"1/1:whole answer"}, "whole answer"},
		{"payload containing colon", []string{"1/2:time is 12:30 ", "2/2:sharp"}, "time is 12:30 sharp"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Reassemble(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("Reassemble(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestReassembleIncomplete(t *testing.T) {
	cases := []struct {
		name string
		in   []string
	}{
		{"missing fragment", []string{"1/3:a", "3/3:c"}},
		{"duplicate fragment", []string{"1/2:a", "1/2:a", "2/2:b"}},
		{"inconsistent totals", []string{"1/2:a", "2/3:b"}},
		{"index zero", []string{"0/2:a", "1/2:b"}},
		{"index past total", []string{"1/2:a", "3/2:b"}},
		{"mixed tagged and plain", []string{"1/2:a", "plain chunk"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Reassemble(tc.in)
			if err == nil {
				t.Fatalf("Reassemble(%q) succeeded, want incomplete error", tc.in)
			}
			var incomplete *IncompleteResponseError
			if !errors.As(err, &incomplete) {
				t.Errorf("got %T, want *IncompleteResponseError", err)
			}
		})
	}
}
