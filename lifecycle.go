/*
File: lifecycle.go
Version: 1.0.0
Description: Suspend/resume guard around the resolver for backgrounded
             execution. While suspended, new calls are held in FIFO order and
             in-flight chains pause at the next attempt boundary; resuming
             releases the queue in arrival order.
*/

package main

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// LifecycleGuard wraps a Resolver with host-lifecycle awareness.
type LifecycleGuard struct {
	resolver *Resolver

	mu        sync.Mutex
	suspended bool
	waiters   *list.List // of chan struct{}
}

func NewLifecycleGuard(r *Resolver) *LifecycleGuard {
	g := &LifecycleGuard{
		resolver: r,
		waiters:  list.New(),
	}
	// The resolver consults the guard between transport attempts, so a chain
	// that was mid-flight when suspension began pauses instead of racing on.
	r.gate = g
	return g
}

// Suspend holds new and in-flight work. Idempotent.
func (g *LifecycleGuard) Suspend() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suspended {
		return
	}
	g.suspended = true
	LogInfo("[LIFECYCLE] suspended")
}

// Resume releases held work in FIFO order. Idempotent.
func (g *LifecycleGuard) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.suspended {
		return
	}
	g.suspended = false
	released := 0
	for e := g.waiters.Front(); e != nil; e = g.waiters.Front() {
		g.waiters.Remove(e)
		close(e.Value.(chan struct{}))
		released++
	}
	LogInfo("[LIFECYCLE] resumed, released %d held calls", released)
}

// Suspended reports the current state.
func (g *LifecycleGuard) Suspended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suspended
}

// Wait implements Gate: it returns immediately while active, blocks while
// suspended, and surfaces SuspendedError when the caller's context ends
// before the session resumes (the query cannot safely continue).
func (g *LifecycleGuard) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.suspended {
		g.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	elem := g.waiters.PushBack(ch)
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		// Resume may have already removed the element; Remove is a no-op then.
		g.waiters.Remove(elem)
		g.mu.Unlock()
		select {
		case <-ch:
			// Resumed and cancelled raced; the release won.
			return nil
		default:
		}
		return &SuspendedError{Detail: fmt.Sprintf("caller context ended while suspended: %v", ctx.Err())}
	}
}

// Resolve holds the call while suspended, then delegates to the resolver.
func (g *LifecycleGuard) Resolve(ctx context.Context, rawText string) (string, error) {
	if err := g.Wait(ctx); err != nil {
		return "", err
	}
	return g.resolver.Resolve(ctx, rawText)
}
