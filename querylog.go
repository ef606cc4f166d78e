/*
File: querylog.go
Version: 1.0.0
Description: Per-attempt diagnostic records and the sink interface they are
             delivered through. The sink is a write-only consumer owned by the
             caller (the chat UI renders it); the default sink mirrors records
             into the debug log.
*/

package main

import "time"

// AttemptOutcome is the terminal state of one transport attempt.
type AttemptOutcome string

const (
	OutcomePending AttemptOutcome = "pending"
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
)

// TransportAttempt records one attempt of the fallback chain. Created when an
// attempt begins and mutated only by that attempt's completion.
type TransportAttempt struct {
	Method    Method
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   AttemptOutcome
	ErrorKind ErrKind
	Detail    string
}

func (a *TransportAttempt) finish(outcome AttemptOutcome, kind ErrKind, detail string) {
	a.EndedAt = time.Now()
	a.Outcome = outcome
	a.ErrorKind = kind
	a.Detail = detail
}

// Elapsed is the attempt duration, zero while still pending.
func (a *TransportAttempt) Elapsed() time.Duration {
	if a.EndedAt.IsZero() {
		return 0
	}
	return a.EndedAt.Sub(a.StartedAt)
}

// AttemptSink receives attempt records as they settle.
type AttemptSink interface {
	Record(attempt *TransportAttempt)
}

// logAttemptSink writes settled attempts to the debug log.
type logAttemptSink struct{}

func (logAttemptSink) Record(a *TransportAttempt) {
	if a.Outcome == OutcomeSuccess {
		LogDebug("[ATTEMPT] %s succeeded in %v", a.Method, a.Elapsed())
		return
	}
	LogDebug("[ATTEMPT] %s failed after %v: %s (%s)", a.Method, a.Elapsed(), a.ErrorKind, a.Detail)
}
