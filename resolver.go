/*
File: resolver.go
Version: 1.2.0
Description: The transport fallback orchestrator. For one sanitized message it
             walks the configured method chain sequentially, racing each attempt
             against its own timer, and returns the first reassembled answer or
             an aggregate error carrying every attempt's classified reason.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultAttemptTimeout = 10 * time.Second

// Gate pauses the chain at attempt boundaries. Implemented by the lifecycle
// guard; a nil gate never blocks.
type Gate interface {
	Wait(ctx context.Context) error
}

// Resolver owns the per-session pipeline: admission window, deduplicator and
// transport chain. Construct one per client session.
type Resolver struct {
	zone       string
	order      []Method
	transports map[Method]Transport
	timeout    time.Duration
	window     *RateWindow
	dedup      *Deduplicator
	sink       AttemptSink
	gate       Gate
}

func NewResolver(cfg *Config) (*Resolver, error) {
	guard, err := NewServerGuard(cfg.Server.BlockedRanges, cfg.Server.AllowLocal)
	if err != nil {
		return nil, err
	}
	transports, err := buildTransports(cfg, guard)
	if err != nil {
		return nil, err
	}

	return &Resolver{
		zone:       cfg.Server.parsedZone,
		order:      cfg.Server.parsedOrder,
		transports: transports,
		timeout:    cfg.Server.parsedTimeout,
		window:     NewRateWindow(cfg.RateLimit.Capacity, cfg.RateLimit.parsedWindow),
		dedup:      NewDeduplicator(),
		sink:       logAttemptSink{},
	}, nil
}

// SetSink replaces the attempt sink (the chat UI's query log). Must be called
// before the first Resolve.
func (r *Resolver) SetSink(sink AttemptSink) {
	if sink != nil {
		r.sink = sink
	}
}

// Resolve sends one chat message and returns the reassembled answer.
//
// Pre-flight failures (ValidationError, RateLimitedError) surface directly.
// Concurrent calls that sanitize to the same query name are coalesced onto a
// single transport chain; every caller receives the same result.
func (r *Resolver) Resolve(ctx context.Context, rawText string) (string, error) {
	q, err := Sanitize(rawText, r.zone)
	if err != nil {
		return "", err
	}

	if ok, retryAfter := r.window.Admit(time.Now()); !ok {
		LogWarn("[RESOLVE] window full, retry after %v", retryAfter)
		return "", &RateLimitedError{RetryAfter: retryAfter}
	}

	LogDebug("[RESOLVE] %q -> %s", q.RawText, q.QueryName)

	answer, shared, err := r.dedup.Do(ctx, q.QueryName, func(opCtx context.Context) (string, error) {
		return r.runChain(opCtx, q)
	})
	if shared {
		LogDebug("[RESOLVE] coalesced onto in-flight query for %s", q.QueryName)
	}
	return answer, err
}

// runChain tries each configured method in order. Per-method failures are
// recorded and converted into fallback transitions; only exhaustion of the
// whole chain (or cancellation/suspension) escapes.
func (r *Resolver) runChain(ctx context.Context, q *SanitizedQuery) (string, error) {
	attempts := make([]*TransportAttempt, 0, len(r.order))

	for i, method := range r.order {
		if r.gate != nil {
			if err := r.gate.Wait(ctx); err != nil {
				return "", err
			}
		}

		t := r.transports[method]
		if t == nil {
			return "", fmt.Errorf("transport %q not built", method)
		}

		attempt := &TransportAttempt{
			Method:    method,
			StartedAt: time.Now(),
			Outcome:   OutcomePending,
		}
		attempts = append(attempts, attempt)

		if !t.Allow() {
			attempt.finish(OutcomeFailure, KindThrottled, "qps pacer exhausted")
			r.sink.Record(attempt)
			LogDebug("[FALLBACK] %s throttled, advancing", method)
			continue
		}

		LogDebug("[FALLBACK] attempt %d/%d via %s", i+1, len(r.order), method)
		answer, err := r.attemptOne(ctx, t, q)
		if err == nil {
			attempt.finish(OutcomeSuccess, "", "")
			r.sink.Record(attempt)
			LogInfo("[RESOLVE] %s answered in %v (%d bytes)", method, attempt.Elapsed(), len(answer))
			return answer, nil
		}

		kind := classifyKind(err)
		attempt.finish(OutcomeFailure, kind, err.Error())
		r.sink.Record(attempt)

		// A cancelled attempt means the caller gave up: stop the chain instead
		// of burning the remaining methods.
		if kind == KindCancelled {
			return "", &TransportError{Method: method, Kind: kind, Err: err}
		}

		LogWarn("[FALLBACK] %s failed (%s): %v", method, kind, err)
	}

	return "", &AllTransportsFailedError{Attempts: attempts}
}

// attemptOne races one transport call against the per-method timer, so a hung
// platform call can never block the chain past the attempt timeout. The
// response must decode, reassemble and be non-empty to count as success.
func (r *Resolver) attemptOne(ctx context.Context, t Transport, q *SanitizedQuery) (string, error) {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		txts []string
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		txts, err := t.Query(attemptCtx, q)
		ch <- outcome{txts: txts, err: err}
	}()

	var res outcome
	select {
	case <-attemptCtx.Done():
		// Timer win or caller cancellation. The transport goroutine unwinds on
		// its own once it observes the dead context.
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("attempt exceeded %v: %w", timeout, attemptCtx.Err())
		}
		return "", attemptCtx.Err()
	case res = <-ch:
	}

	if res.err != nil {
		return "", res.err
	}
	if len(res.txts) == 0 {
		return "", &IncompleteResponseError{Reason: "response carried no TXT records"}
	}

	answer, err := Reassemble(res.txts)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", &IncompleteResponseError{Reason: "response reassembled to an empty answer"}
	}
	return answer, nil
}
