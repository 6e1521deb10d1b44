package device

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrHandleClosed is returned by Execute after the device callback has
// returned and the handle was invalidated.
var ErrHandleClosed = errors.New("device handle is no longer valid")

// Handle is the capability object handed to the device callback. It exposes
// RPC execution over the established session and nothing else. A Handle is
// valid only for the duration of the callback invocation; the server
// invalidates it when the callback returns, so it must not be retained.
type Handle struct {
	sess       Session
	rpcTimeout time.Duration
	closed     atomic.Bool
}

// NewHandle binds a handle to an established session. rpcTimeout is applied
// to Execute calls whose context carries no deadline of its own.
func NewHandle(sess Session, rpcTimeout time.Duration) *Handle {
	return &Handle{
		sess:       sess,
		rpcTimeout: rpcTimeout,
	}
}

// Execute runs one RPC operation on the device and returns the raw
// <rpc-reply> document.
func (h *Handle) Execute(ctx context.Context, operation string) ([]byte, error) {
	if h.closed.Load() {
		return nil, ErrHandleClosed
	}

	if _, ok := ctx.Deadline(); !ok && h.rpcTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.rpcTimeout)
		defer cancel()
	}

	return h.sess.Execute(ctx, operation)
}

// Invalidate marks the handle unusable. Called by the server once the
// device callback returns; subsequent Execute calls fail with
// ErrHandleClosed.
func (h *Handle) Invalidate() {
	h.closed.Store(true)
}
