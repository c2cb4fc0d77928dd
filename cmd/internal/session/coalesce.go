package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Coalescer collapses concurrent refresh attempts for the same secret into a
// single rotation. The first caller for a key starts the rotation; callers
// arriving while it is in flight subscribe to its result instead of racing a
// second rotation against the store. The key is forgotten once the call
// completes, win or lose, so a later refresh with the new secret starts a
// fresh cycle.
//
// Keys are per secret hash, never global: unrelated sessions refresh
// concurrently without contending.
type Coalescer struct {
	group singleflight.Group
}

// NewCoalescer constructs a Coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{}
}

// Do runs fn under the single-flight guard for key.
//
// A waiter whose ctx ends before the shared call completes receives
// ErrRefreshWaitCanceled; the call itself keeps running to completion for the
// remaining waiters (fn must not be bound to any single waiter's context).
func (c *Coalescer) Do(ctx context.Context, key string, fn func() (IssuedCredentials, error)) (IssuedCredentials, error) {
	refreshWaiters.Inc()
	defer refreshWaiters.Dec()

	ch := c.group.DoChan(key, func() (any, error) {
		// Clear the slot before delivering the result so the next legitimate
		// refresh for this key is never coalesced into a finished call.
		defer c.group.Forget(key)
		return fn()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return IssuedCredentials{}, res.Err
		}
		return res.Val.(IssuedCredentials), nil
	case <-ctx.Done():
		return IssuedCredentials{}, fmt.Errorf("%w: %v", ErrRefreshWaitCanceled, ctx.Err())
	}
}
