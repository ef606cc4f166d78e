/*
File: reassemble.go
Version: 1.0.1
Description: Reassembles TXT strings into the final answer. The service either
             returns plain 255-byte chunks (concatenated in record order) or
             tags each string with an "i/N:" prefix when framing long answers.
             A tagged set is complete only when indices 1..N are each present
             exactly once; anything less is a failure, never a partial answer.
*/

package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Fragment grammar: leading 1-based index, total count, colon.
// Kept in one place so a live-capture correction is a local change.
var fragmentRegex = regexp.MustCompile(`^(\d+)/(\d+):`)

// Reassemble turns the TXT strings of a response into the answer text.
func Reassemble(txtStrings []string) (string, error) {
	tagged := false
	for _, s := range txtStrings {
		if fragmentRegex.MatchString(s) {
			tagged = true
			break
		}
	}

	if !tagged {
		var b strings.Builder
		for _, s := range txtStrings {
			b.WriteString(s)
		}
		return b.String(), nil
	}

	parts := make(map[int]string)
	total := 0
	for _, s := range txtStrings {
		m := fragmentRegex.FindStringSubmatch(s)
		if m == nil {
			return "", &IncompleteResponseError{Reason: fmt.Sprintf("untagged string %q mixed with tagged fragments", truncateForLog(s))}
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return "", &IncompleteResponseError{Reason: "fragment index is not a number"}
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", &IncompleteResponseError{Reason: "fragment count is not a number"}
		}
		if idx < 1 || n < 1 || idx > n {
			return "", &IncompleteResponseError{Reason: fmt.Sprintf("fragment index %d/%d out of range", idx, n)}
		}
		if total == 0 {
			total = n
		} else if n != total {
			return "", &IncompleteResponseError{Reason: fmt.Sprintf("inconsistent fragment totals %d and %d", total, n)}
		}
		if _, dup := parts[idx]; dup {
			return "", &IncompleteResponseError{Reason: fmt.Sprintf("duplicate fragment %d/%d", idx, n)}
		}
		parts[idx] = s[len(m[0]):]
	}

	if len(parts) != total {
		return "", &IncompleteResponseError{Reason: fmt.Sprintf("have %d of %d fragments", len(parts), total)}
	}

	var b strings.Builder
	for i := 1; i <= total; i++ {
		b.WriteString(parts[i])
	}
	return b.String(), nil
}

func truncateForLog(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
