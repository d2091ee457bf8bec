package restfetch

import (
	"context"
	"sync/atomic"
)

// CancelToken is an owned cancellation handle created fresh per attempt.
// Exactly one token is live per session; superseding an attempt invalidates
// the previous token synchronously before the new attempt begins. Cancellation
// is cooperative: the transport is signaled through the token's context, but a
// resumed continuation must still check Valid as a final gate before
// committing anything, because abort signaling does not race-free prevent a
// late completion from running.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc
	valid  int32
}

func newCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{ctx: ctx, cancel: cancel, valid: 1}
}

// Invalidate marks the token stale and aborts the bound transport. Safe to
// call multiple times.
func (t *CancelToken) Invalidate() {
	if t == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&t.valid, 1, 0) {
		t.cancel()
	}
}

// Valid reports whether results bound to this token may still commit.
func (t *CancelToken) Valid() bool {
	return t != nil && atomic.LoadInt32(&t.valid) == 1
}

// Context returns the context the transport call is bound to.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}
