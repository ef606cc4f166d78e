/*
File: dedup.go
Version: 1.1.0
Description: In-flight query coalescing keyed by the normalized query name.
             Built on singleflight with a ref-counted cancellation wrapper:
             the shared operation is cancelled and the key forgotten once the
             last interested caller detaches, so an entry's lifetime is exactly
             the operation's lifetime.
*/

package main

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type inflightEntry struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

// Deduplicator coalesces concurrent identical queries. One instance per
// resolver session; nothing here is global.
type Deduplicator struct {
	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]*inflightEntry
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		inflight: make(map[string]*inflightEntry),
	}
}

// Do runs op under key, attaching to an in-flight execution when one exists.
// op receives a context that is cancelled when the last waiter for the key
// gives up. The shared return reports whether the result was coalesced.
func (d *Deduplicator) Do(ctx context.Context, key string, op func(context.Context) (string, error)) (string, bool, error) {
	d.mu.Lock()
	e := d.inflight[key]
	if e == nil {
		opCtx, cancel := context.WithCancel(context.Background())
		e = &inflightEntry{ctx: opCtx, cancel: cancel}
		d.inflight[key] = e
	}
	e.refs++
	opCtx := e.ctx
	d.mu.Unlock()

	ch := d.group.DoChan(key, func() (interface{}, error) {
		return op(opCtx)
	})

	select {
	case <-ctx.Done():
		d.detach(key, e)
		return "", false, ctx.Err()
	case res := <-ch:
		d.detach(key, e)
		if res.Err != nil {
			return "", res.Shared, res.Err
		}
		return res.Val.(string), res.Shared, nil
	}
}

// detach drops one waiter. The last one out cancels the operation and forgets
// the key so later callers start a fresh flight instead of joining a dead one.
func (d *Deduplicator) detach(key string, e *inflightEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e.refs--
	if e.refs > 0 {
		return
	}
	e.cancel()
	if d.inflight[key] == e {
		delete(d.inflight, key)
	}
	d.group.Forget(key)
}

// Pending reports the number of distinct in-flight keys. Diagnostic only.
func (d *Deduplicator) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
