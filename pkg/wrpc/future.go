package wrpc

import (
	"context"
	"reflect"
	"sync"

	"github.com/mgnsk/fibra-workers/pkg/codec"
)

// State of a Future.
type State int

// Future states. A Future leaves Pending exactly once.
const (
	Pending State = iota
	Resolved
	Rejected
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Future is the eventual result of a call. It may report progress
// updates before it settles.
type Future struct {
	notifyMu  sync.Mutex
	mu        sync.Mutex
	state     State
	value     any
	err       error
	done      chan struct{}
	updates   []any
	listeners []func(any)

	// Set when the value was restored from a wire tree.
	reg  *codec.Registry
	tree any
}

// NewFuture returns a pending Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture returns a Future resolved with v.
func ResolvedFuture(v any) *Future {
	f := NewFuture()
	f.Resolve(v)
	return f
}

// RejectedFuture returns a Future rejected with err.
func RejectedFuture(err error) *Future {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Resolve settles the Future with v. It reports false if the Future was
// already settled.
func (f *Future) Resolve(v any) bool {
	return f.settle(Resolved, v, nil)
}

// Reject settles the Future with err.
func (f *Future) Reject(err error) bool {
	return f.settle(Rejected, nil, err)
}

func (f *Future) cancel(err error) bool {
	return f.settle(Cancelled, nil, err)
}

func (f *Future) resolveWire(v any, reg *codec.Registry, tree any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Pending {
		return false
	}
	f.state, f.value = Resolved, v
	f.reg, f.tree = reg, tree
	f.listeners = nil
	close(f.done)
	return true
}

func (f *Future) settle(state State, v any, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Pending {
		return false
	}
	f.state, f.value, f.err = state, v, err
	f.listeners = nil
	close(f.done)
	return true
}

// Notify reports a progress update to the update callbacks. Updates after the
// Future settled are dropped.
func (f *Future) Notify(v any) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return
	}
	f.updates = append(f.updates, v)
	listeners := append([]func(any){}, f.listeners...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
}

// OnUpdate registers a progress callback. Updates reported before the
// callback was registered are replayed to it first.
func (f *Future) OnUpdate(fn func(any)) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	f.mu.Lock()
	past := append([]any{}, f.updates...)
	if f.state == Pending {
		f.listeners = append(f.listeners, fn)
	}
	f.mu.Unlock()

	for _, v := range past {
		fn(v)
	}
}

// Done is closed when the Future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// State returns the current state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Await blocks until the Future settles or ctx is done. A cancelled
// Future returns an error of type ErrCancelled.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Decode awaits the Future and stores its value in the value pointed to by
// target. Values received from a worker are decoded from the wire into the
// target's type.
func (f *Future) Decode(ctx context.Context, target any) error {
	v, err := f.Await(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	reg, tree := f.reg, f.tree
	f.mu.Unlock()
	if reg != nil {
		return codec.RestoreInto(reg, tree, target)
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return codec.ErrTypeMismatch.New("decode target must be a non-nil pointer, got %T", target)
	}
	dst := rv.Elem()
	if v == nil {
		dst.SetZero()
		return nil
	}
	src := reflect.ValueOf(v)
	if !src.Type().AssignableTo(dst.Type()) {
		return codec.ErrTypeMismatch.New("cannot assign %T to %s", v, dst.Type())
	}
	dst.Set(src)
	return nil
}

// Await is a typed Future.Decode.
func Await[T any](ctx context.Context, f *Future) (T, error) {
	var out T
	err := f.Decode(ctx, &out)
	return out, err
}
