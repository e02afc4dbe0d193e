package wrpc

import (
	"context"
	"sync/atomic"
)

// CancellationToken is passed as the trailing argument to service methods.
// It is cancelled when the caller cancels the call. Methods observe it
// cooperatively.
type CancellationToken struct {
	ctx      context.Context
	cancel   context.CancelFunc
	released atomic.Bool
}

// NewCancellationToken returns a token that is also cancelled when ctx is done.
func NewCancellationToken(ctx context.Context) *CancellationToken {
	ctx, cancel := context.WithCancel(ctx)
	return &CancellationToken{ctx: ctx, cancel: cancel}
}

// IsCancelled reports whether the call was cancelled.
func (t *CancellationToken) IsCancelled() bool {
	return t.ctx.Err() != nil && !t.released.Load()
}

// OnCancel runs fn in its own goroutine once the token is cancelled. The
// returned stop func unregisters fn.
func (t *CancellationToken) OnCancel(fn func()) (stop func() bool) {
	return context.AfterFunc(t.ctx, func() {
		if !t.released.Load() {
			fn()
		}
	})
}

// Done is closed when the token is cancelled.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns a context that is done when the token is cancelled.
func (t *CancellationToken) Context() context.Context {
	return t.ctx
}

// Cancel the token.
func (t *CancellationToken) Cancel() {
	t.cancel()
}

// release frees the token once its call has settled. OnCancel callbacks do
// not run after release.
func (t *CancellationToken) release() {
	t.released.Store(true)
	t.cancel()
}
