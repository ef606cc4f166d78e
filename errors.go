/*
File: errors.go
Version: 1.0.0
Description: Structured error taxonomy for the query pipeline. Pre-flight errors
             (validation, rate limit) surface directly; per-transport errors are
             classified and converted into fallback transitions by the resolver.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// ErrKind classifies a transport-level failure.
type ErrKind string

const (
	KindTimeout     ErrKind = "timeout"
	KindRefused     ErrKind = "refused"
	KindUnreachable ErrKind = "unreachable"
	KindCancelled   ErrKind = "cancelled"
	KindMalformed   ErrKind = "malformed"
	KindIncomplete  ErrKind = "incomplete"
	KindThrottled   ErrKind = "throttled"
	KindBlocked     ErrKind = "blocked"
)

// ValidationError rejects raw input before any network I/O. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s", e.Reason)
}

// RateLimitedError is returned when the session window is full. The caller may
// retry after RetryAfter; the resolver never retries internally.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
}

// TransportError wraps a single transport attempt failure.
type TransportError struct {
	Method Method
	Kind   ErrKind
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed (%s): %v", e.Method, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError reports a bounds or format violation in a wire
// response. Always a per-method failure, never fatal unless it is the last
// method in the chain.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed DNS response: %s", e.Reason)
}

// IncompleteResponseError reports that tagged fragments could not be
// assembled into a complete answer.
type IncompleteResponseError struct {
	Reason string
}

func (e *IncompleteResponseError) Error() string {
	return fmt.Sprintf("incomplete response: %s", e.Reason)
}

// SuspendedError is surfaced when a call cannot safely continue across a
// lifecycle suspension (the caller context ended while the session was held).
type SuspendedError struct {
	Detail string
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("query suspended: %s", e.Detail)
}

// AllTransportsFailedError is the terminal error of a resolve call. It carries
// the full attempt trail so callers can render an actionable diagnosis.
type AllTransportsFailedError struct {
	Attempts []*TransportAttempt
}

func (e *AllTransportsFailedError) Error() string {
	var b strings.Builder
	b.WriteString("all transports failed")
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s: %s", a.Method, a.ErrorKind)
		if a.Detail != "" {
			fmt.Fprintf(&b, " (%s)", a.Detail)
		}
	}
	return b.String()
}

// BlockedServerError is raised by the server guard before any socket opens.
type BlockedServerError struct {
	IP     net.IP
	Reason string
}

func (e *BlockedServerError) Error() string {
	if e.IP == nil {
		return fmt.Sprintf("server blocked: %s", e.Reason)
	}
	return fmt.Sprintf("server %s blocked: %s", e.IP, e.Reason)
}

// classifyKind maps an arbitrary transport failure onto the error taxonomy.
// Decode and reassembly failures carry their own types and are checked first.
func classifyKind(err error) ErrKind {
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return KindMalformed
	}
	var incomplete *IncompleteResponseError
	if errors.As(err, &incomplete) {
		return KindIncomplete
	}
	var blocked *BlockedServerError
	if errors.As(err, &blocked) {
		return KindBlocked
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindRefused
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return KindUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		if dnsErr.IsNotFound {
			return KindUnreachable
		}
	}
	return KindUnreachable
}
